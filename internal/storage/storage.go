// Package storage pushes published files to remote storage.
package storage

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Uploader replaces the content of a remote file identified by fileID.
type Uploader interface {
	Upload(ctx context.Context, fileID string, r io.Reader) error
}

// NewDriveService builds a Drive client from service account credentials.
func NewDriveService(ctx context.Context, credentials []byte, opts ...option.ClientOption) (*drive.Service, error) {
	opts = append([]option.ClientOption{
		option.WithCredentialsJSON(credentials),
		option.WithScopes(drive.DriveScope),
	}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return srv, nil
}

// Drive uploads new revisions of existing Drive files.
type Drive struct {
	srv *drive.Service
}

func NewDrive(srv *drive.Service) *Drive {
	return &Drive{srv: srv}
}

func (d *Drive) Upload(ctx context.Context, fileID string, r io.Reader) error {
	_, err := d.srv.Files.Update(fileID, &drive.File{}).
		Media(r).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("drive upload %s: %w", fileID, err)
	}
	return nil
}
