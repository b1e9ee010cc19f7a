package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/ivlev/postersync/internal/storage"
	"github.com/ivlev/postersync/internal/system"
)

// Push uploads every staged remote file.
func Push(ctx context.Context, up storage.Uploader, staged []*Staged) (int, error) {
	n := 0
	for _, s := range staged {
		for _, u := range s.Uploads {
			if err := pushFile(ctx, up, u); err != nil {
				return n, fmt.Errorf("variant %s: %w", s.Variant.Name(), err)
			}
			n++
		}
	}
	return n, nil
}

func pushFile(ctx context.Context, up storage.Uploader, u Upload) error {
	f, err := os.Open(u.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return up.Upload(ctx, u.FileID, f)
}

// Commit moves every staged file to its final location.
func Commit(staged []*Staged) error {
	for _, s := range staged {
		for _, m := range s.Moves {
			if err := system.MoveFile(m.From, m.To); err != nil {
				return fmt.Errorf("variant %s: commit %s: %w", s.Variant.Name(), m.To, err)
			}
		}
	}
	return nil
}

// NeedsUploader reports whether any staged variant has remote files.
func NeedsUploader(staged []*Staged) bool {
	for _, s := range staged {
		if len(s.Uploads) > 0 {
			return true
		}
	}
	return false
}
