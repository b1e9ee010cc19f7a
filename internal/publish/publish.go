// Package publish rebuilds the output variants touched by a run's updates.
// Every file is written to a staging directory first; nothing under the
// data or site directories changes until the caller commits.
package publish

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ivlev/postersync/internal/compose"
	"github.com/ivlev/postersync/internal/config"
	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/video"
)

// Move is a staged file and its final location.
type Move struct {
	From, To string
}

// Upload is a staged file to push to a remote file id.
type Upload struct {
	FileID string
	Path   string
}

// Staged is the output of one variant awaiting commit.
type Staged struct {
	Variant config.Variant
	Posters []string
	Moves   []Move
	Uploads []Upload
}

type Publisher struct {
	Config     *config.Config
	Transcoder video.Transcoder
	Log        *slog.Logger
	// StagingDir receives every file before commit.
	StagingDir string
}

// Validate checks, before any network activity, that every poster of a
// still variant carries a rectangle. Video variants fall back to the grid.
func Validate(cfg *config.Config, descriptors []poster.Descriptor) error {
	for _, v := range cfg.Variants {
		for _, d := range descriptors {
			if !v.Video && d.HasSuffix(v.Suffix) && d.Rect == nil {
				return &config.Error{
					What: "manifest",
					Err:  fmt.Errorf("poster %s: variant %s needs a rect", d.ID, v.Name()),
				}
			}
		}
	}
	return nil
}

// Publish rebuilds variant v from the updates that map to it. descriptors is
// the whole manifest and sizes blank and grown canvases. It returns nil when
// no update maps to v; the variant's published files stay as they are.
func (p *Publisher) Publish(ctx context.Context, v config.Variant, descriptors []poster.Descriptor, updates []poster.Update, cacheExisting bool) (*Staged, error) {
	log := p.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("variant", v.Name())

	var relevant []poster.Update
	for _, u := range updates {
		if u.Descriptor.HasSuffix(v.Suffix) {
			relevant = append(relevant, u)
		}
	}
	if len(relevant) == 0 {
		log.Debug("no updated posters for variant")
		return nil, nil
	}

	canvas, err := p.canvas(v, descriptors, cacheExisting)
	if err != nil {
		return nil, fmt.Errorf("variant %s: %w", v.Name(), err)
	}

	items := make([]compose.Item, 0, len(relevant))
	staged := &Staged{Variant: v}
	for _, u := range relevant {
		r, err := p.rect(v, u.Descriptor, canvas.Bounds().Dx())
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name(), err)
		}
		items = append(items, compose.Item{Image: u.Image, Rect: r})
		staged.Posters = append(staged.Posters, u.Descriptor.ID)
	}
	compose.Composite(canvas, items)

	dir, err := os.MkdirTemp(p.StagingDir, "variant-*")
	if err != nil {
		return nil, err
	}
	stage := func(final string) string {
		return filepath.Join(dir, filepath.Base(final))
	}

	data, err := compose.Encode(canvas)
	if err != nil {
		return nil, fmt.Errorf("variant %s: encode canvas: %w", v.Name(), err)
	}
	cachePath := p.Config.CachePath(v)
	stagedCache := stage(cachePath)
	if err := os.WriteFile(stagedCache, data, 0644); err != nil {
		return nil, err
	}
	staged.Moves = append(staged.Moves, Move{From: stagedCache, To: cachePath})

	if !v.Video {
		stillPath := p.Config.StillPath(v)
		stagedStill := filepath.Join(dir, "published-"+filepath.Base(stillPath))
		if err := os.WriteFile(stagedStill, data, 0644); err != nil {
			return nil, err
		}
		staged.Moves = append(staged.Moves, Move{From: stagedStill, To: stillPath})
		log.Info("still variant staged", "posters", len(items))
		return staged, nil
	}

	videoPath := p.Config.VideoPath(v)
	legacyPath := p.Config.LegacyVideoPath(v)
	stagedVideo, stagedLegacy := stage(videoPath), stage(legacyPath)

	if err := p.Transcoder.ImageToLoop(ctx, stagedCache, stagedVideo); err != nil {
		return nil, fmt.Errorf("variant %s: %w", v.Name(), err)
	}
	if err := p.Transcoder.Rescale(ctx, stagedVideo, stagedLegacy, p.Config.Video.LegacyTextureWidth); err != nil {
		return nil, fmt.Errorf("variant %s: %w", v.Name(), err)
	}
	staged.Moves = append(staged.Moves,
		Move{From: stagedVideo, To: videoPath},
		Move{From: stagedLegacy, To: legacyPath},
	)
	if v.RemoteFileID != "" {
		staged.Uploads = append(staged.Uploads, Upload{FileID: v.RemoteFileID, Path: stagedVideo})
	}
	if v.LegacyRemoteFileID != "" {
		staged.Uploads = append(staged.Uploads, Upload{FileID: v.LegacyRemoteFileID, Path: stagedLegacy})
	}
	log.Info("video variant staged", "posters", len(items), "uploads", len(staged.Uploads))
	return staged, nil
}

// canvas returns the variant's starting surface: the persisted cache, the
// video template, or a black canvas covering every rectangle of the variant.
// A still cache smaller than the current rectangles is grown to fit them.
func (p *Publisher) canvas(v config.Variant, descriptors []poster.Descriptor, cacheExisting bool) (*image.RGBA, error) {
	if cacheExisting {
		cache, err := compose.Load(p.Config.CachePath(v))
		if err != nil || v.Video {
			return cache, err
		}
		rects, err := variantRects(v, descriptors)
		if err != nil {
			return nil, err
		}
		return compose.Grow(cache, compose.Bounds(rects)), nil
	}
	if v.Video && v.Template != "" {
		return compose.Load(v.Template)
	}

	rects, err := variantRects(v, descriptors)
	if err != nil {
		return nil, err
	}
	if v.Video {
		// yuv420p needs even dimensions.
		b := compose.Bounds(rects)
		rects = append(rects, poster.Rect{W: b.Dx() + b.Dx()%2, H: b.Dy() + b.Dy()%2})
	}
	return compose.NewBlank(rects), nil
}

// variantRects lists the rectangle of every poster drawn on variant v.
func variantRects(v config.Variant, descriptors []poster.Descriptor) ([]poster.Rect, error) {
	var rects []poster.Rect
	for _, d := range descriptors {
		if !d.HasSuffix(v.Suffix) {
			continue
		}
		r := d.Rect
		if v.Video && d.RectForVideo != nil {
			r = d.RectForVideo
		}
		if r == nil {
			return nil, fmt.Errorf("poster %s has no rect and the variant has no template", d.ID)
		}
		rects = append(rects, *r)
	}
	return rects, nil
}

func (p *Publisher) rect(v config.Variant, d poster.Descriptor, canvasWidth int) (poster.Rect, error) {
	if v.Video {
		switch {
		case d.RectForVideo != nil:
			return *d.RectForVideo, nil
		case d.Rect != nil:
			return *d.Rect, nil
		default:
			return compose.GridRect(d.Index, canvasWidth, p.Config.Video.GridColumns, p.Config.Video.GridAspectRatio), nil
		}
	}
	if d.Rect == nil {
		return poster.Rect{}, fmt.Errorf("poster %s has no rect", d.ID)
	}
	return *d.Rect, nil
}
