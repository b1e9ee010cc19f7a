package source

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/postersync/internal/compose"
	"github.com/ivlev/postersync/internal/poster"
)

// FrameGrabber extracts the first frame of a video as an encoded image.
type FrameGrabber interface {
	FirstFrame(ctx context.Context, video []byte) ([]byte, error)
}

// Stills turns fetched content into the image drawn on the canvas.
type Stills struct {
	Frames FrameGrabber
	// PDFRenderer renders the first page of a PDF; defaults to go-fitz.
	PDFRenderer func(data []byte) (image.Image, error)
}

// Image decodes data according to the descriptor's file type. Videos are
// reduced to their first frame and PDFs to their first page.
func (s *Stills) Image(ctx context.Context, d poster.Descriptor, data []byte) (image.Image, error) {
	switch d.FileType {
	case "":
		return compose.Decode(d.ID, data)
	case poster.FileTypeMP4:
		if s.Frames == nil {
			return nil, fmt.Errorf("poster %s: no frame grabber configured", d.ID)
		}
		frame, err := s.Frames.FirstFrame(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("poster %s: %w", d.ID, err)
		}
		return compose.Decode(d.ID, frame)
	case poster.FileTypePDF:
		render := s.PDFRenderer
		if render == nil {
			render = RenderFirstPage
		}
		img, err := render(data)
		if err != nil {
			return nil, &compose.DecodeError{ID: d.ID, Err: err}
		}
		return img, nil
	default:
		return nil, &compose.DecodeError{ID: d.ID, Err: fmt.Errorf("unsupported fileType %q", d.FileType)}
	}
}

// RenderFirstPage rasterises page one of a PDF document.
func RenderFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	return doc.Image(0)
}
