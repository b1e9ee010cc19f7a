// Package compose draws poster images onto a persisted canvas.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/system"
)

// DecodeError is fetched content that is not a readable image.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("poster %s: decode: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode decodes PNG, JPEG, GIF or WebP data.
func Decode(id string, data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{ID: id, Err: err}
	}
	return img, nil
}

// Item is one poster to draw.
type Item struct {
	Image image.Image
	Rect  poster.Rect
}

// Composite draws every item onto canvas in order. An item whose size
// differs from its rectangle is resized to fit it exactly; the destination
// region is overwritten, not blended.
func Composite(canvas draw.Image, items []Item) {
	for _, it := range items {
		dst := it.Rect.Image()
		src := it.Image
		if b := src.Bounds(); b.Dx() == dst.Dx() && b.Dy() == dst.Dy() {
			draw.Draw(canvas, dst, src, b.Min, draw.Src)
			continue
		}
		draw.CatmullRom.Scale(canvas, dst, src, src.Bounds(), draw.Src, nil)
	}
}

// Bounds returns the smallest canvas size holding every rectangle.
func Bounds(rects []poster.Rect) image.Rectangle {
	var w, h int
	for _, r := range rects {
		w = max(w, r.X+r.W)
		h = max(h, r.Y+r.H)
	}
	return image.Rect(0, 0, w, h)
}

// NewBlank returns an opaque black canvas sized to hold every rectangle.
func NewBlank(rects []poster.Rect) *image.RGBA {
	canvas := image.NewRGBA(Bounds(rects))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return canvas
}

// Grow returns canvas when it already covers bounds. Otherwise it returns a
// black canvas covering both, with canvas copied at the origin.
func Grow(canvas *image.RGBA, bounds image.Rectangle) *image.RGBA {
	b := canvas.Bounds()
	if bounds.In(b) {
		return canvas
	}
	grown := image.NewRGBA(image.Rect(0, 0, max(b.Max.X, bounds.Max.X), max(b.Max.Y, bounds.Max.Y)))
	draw.Draw(grown, grown.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(grown, b, canvas, b.Min, draw.Src)
	return grown
}

// GridRect places the index-th poster on the legacy fixed grid: columns
// per row across canvasWidth, each cell aspect times taller than wide.
func GridRect(index, canvasWidth, columns int, aspect float64) poster.Rect {
	w := float64(canvasWidth) / float64(columns)
	h := w * aspect
	return poster.Rect{
		X: int(math.Round(float64(index%columns) * w)),
		Y: int(math.Round(float64(index/columns) * h)),
		W: int(math.Round(w)),
		H: int(math.Round(h)),
	}
}

// Load reads a PNG (or any decodable image) canvas into a drawable RGBA.
func Load(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode canvas %s: %w", path, err)
	}
	return ToRGBA(img), nil
}

// ToRGBA returns img as an *image.RGBA anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Encode renders the canvas as PNG.
func Encode(canvas image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the canvas as PNG, replacing path atomically.
func Save(path string, canvas image.Image) error {
	data, err := Encode(canvas)
	if err != nil {
		return fmt.Errorf("encode canvas: %w", err)
	}
	return system.WriteFileAtomic(path, data, 0644)
}
