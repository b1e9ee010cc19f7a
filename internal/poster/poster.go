// Package poster describes the poster manifest: where each poster is fetched
// from and where it lands on the composite texture.
package poster

import (
	"fmt"
	"image"
	"time"
)

// Kind selects the fetcher used for a descriptor.
type Kind string

const (
	KindGitHub      Kind = "github"
	KindGoogleDrive Kind = "google-drive"
	KindURL         Kind = "url"
)

// FileType values that need reducing to a still before compositing.
const (
	FileTypeMP4 = "mp4"
	FileTypePDF = "pdf"
)

// Rect is a placement in output pixel space.
type Rect struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	W int `yaml:"width" json:"width"`
	H int `yaml:"height" json:"height"`
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Descriptor is one manifest entry.
type Descriptor struct {
	ID    string `yaml:"id"`
	Group string `yaml:"group,omitempty"`
	Kind  Kind   `yaml:"type"`

	// github
	Repository string `yaml:"repository,omitempty"`
	Branch     string `yaml:"branch,omitempty"`
	Path       string `yaml:"path,omitempty"`
	// google-drive
	FileID string `yaml:"fileId,omitempty"`
	// url
	URL string `yaml:"url,omitempty"`

	Rect            *Rect    `yaml:"rect,omitempty"`
	RectForVideo    *Rect    `yaml:"rectForVideo,omitempty"`
	VersionSuffixes []string `yaml:"versionSuffixes,omitempty"`
	FileType        string   `yaml:"fileType,omitempty"`

	// Index is the position in the manifest, assigned by LoadManifest.
	Index int `yaml:"-"`
}

// LedgerKey is the key the descriptor's timestamp is stored under.
func (d Descriptor) LedgerKey() string {
	if d.Group != "" {
		return d.Group
	}
	return d.ID
}

// HasSuffix reports whether the poster contributes to the variant with the
// given version suffix. No suffixes at all means the primary variant only.
func (d Descriptor) HasSuffix(suffix string) bool {
	if len(d.VersionSuffixes) == 0 {
		return suffix == ""
	}
	for _, s := range d.VersionSuffixes {
		if s == suffix {
			return true
		}
	}
	return false
}

// Validate checks the locator fields required by the descriptor's kind.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("poster #%d: id is required", d.Index)
	}
	switch d.Kind {
	case KindGitHub:
		if d.Repository == "" || d.Branch == "" || d.Path == "" {
			return fmt.Errorf("poster %s: github source needs repository, branch and path", d.ID)
		}
	case KindGoogleDrive:
		if d.FileID == "" {
			return fmt.Errorf("poster %s: google-drive source needs fileId", d.ID)
		}
	case KindURL:
		if d.URL == "" {
			return fmt.Errorf("poster %s: url source needs url", d.ID)
		}
	default:
		return fmt.Errorf("poster %s: unknown type %q", d.ID, d.Kind)
	}
	for _, r := range []*Rect{d.Rect, d.RectForVideo} {
		if r != nil && (r.Empty() || r.X < 0 || r.Y < 0) {
			return fmt.Errorf("poster %s: invalid rect %s", d.ID, r)
		}
	}
	switch d.FileType {
	case "", FileTypeMP4, FileTypePDF:
	default:
		return fmt.Errorf("poster %s: unknown fileType %q", d.ID, d.FileType)
	}
	return nil
}

// Update is the fetch result for one refreshed descriptor.
type Update struct {
	Descriptor Descriptor
	Image      image.Image
	// Timestamp is zero when the update was inherited from a group decision.
	Timestamp time.Time
}
