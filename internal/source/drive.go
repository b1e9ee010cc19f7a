package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/ivlev/postersync/internal/poster"
)

// Drive reads files from Google Drive.
type Drive struct {
	srv *drive.Service
}

func NewDrive(srv *drive.Service) *Drive {
	return &Drive{srv: srv}
}

func (g *Drive) FetchTimestamp(ctx context.Context, d poster.Descriptor) (time.Time, error) {
	f, err := g.srv.Files.Get(d.FileID).Fields("modifiedTime").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, f.ModifiedTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse modifiedTime %q: %w", f.ModifiedTime, err)
	}
	return t, nil
}

func (g *Drive) FetchContent(ctx context.Context, d poster.Descriptor) ([]byte, error) {
	resp, err := g.srv.Files.Get(d.FileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}
