// Package config holds the job settings and the process environment. Both
// are resolved once at start and passed down explicitly.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // the default zone must resolve on minimal runners

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "postersync.yaml"
	DefaultManifest        = "posters.json"
	DefaultDataDir         = "posters-data"
	DefaultSiteDir         = "_site"
	DefaultLedgerFile      = "posters-update-dates.json"
	DefaultTimezone        = "Asia/Tokyo"
	DefaultEncoder         = "libx264"
	DefaultLegacyName      = "-quest1"
	DefaultLoopFrameRate   = 60
	DefaultLoopDuration    = 0.24
	DefaultLegacyWidth     = 2000
	DefaultGridColumns     = 4
	DefaultCachePrefix     = "posters-cache"
	DefaultOutputPrefix    = "posters"
	DefaultTemplatePrefix  = "posters-template"
	envPrimaryRemoteFileID = "DRIVE_POSTER_FILE_ID"
	envLegacyRemoteFileID  = "DRIVE_POSTER_LEGACY_FILE_ID"
)

// Error reports missing or malformed configuration. It is fatal and raised
// before any network activity.
type Error struct {
	What string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.What, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Video holds the fixed encoding policy for video variants.
type Video struct {
	LoopFrameRate       int     `yaml:"loop_frame_rate"`
	LoopDurationSeconds float64 `yaml:"loop_duration_seconds"`
	LegacyTextureWidth  int     `yaml:"legacy_texture_width"`
	// LegacyName is appended to a variant's video name for the rescaled copy.
	LegacyName string `yaml:"legacy_name"`
	Encoder    string `yaml:"encoder"`
	// GridColumns and GridAspectRatio describe the legacy fixed grid used
	// when a poster carries no rectangle.
	GridColumns     int     `yaml:"grid_columns"`
	GridAspectRatio float64 `yaml:"grid_aspect_ratio"`
}

// Variant declares one published output.
type Variant struct {
	Suffix string `yaml:"suffix"`
	Video  bool   `yaml:"video"`
	// Template is the starting canvas of a video variant on its first run.
	Template           string `yaml:"template"`
	RemoteFileID       string `yaml:"remote_file_id"`
	LegacyRemoteFileID string `yaml:"legacy_remote_file_id"`
}

func (v Variant) Name() string {
	if v.Suffix == "" {
		return "(default)"
	}
	return v.Suffix
}

type Config struct {
	Manifest        string    `yaml:"manifest"`
	DataDir         string    `yaml:"data_dir"`
	SiteDir         string    `yaml:"site_dir"`
	LedgerFile      string    `yaml:"ledger_file"`
	Timezone        string    `yaml:"timezone"`
	Variants        []Variant `yaml:"variants"`
	Video           Video     `yaml:"video"`
	MetricsTextfile string    `yaml:"metrics_textfile"`

	Location *time.Location `yaml:"-"`
}

// Load reads the settings file at path. A missing file is not an error when
// optional is true; defaults are used instead.
func Load(path string, optional bool) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &Error{What: "parse " + path, Err: err}
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, &Error{What: "read " + path, Err: err}
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, &Error{What: "validate", Err: err}
	}
	return &cfg, nil
}

// Default returns the settings used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	resolveEnv(cfg)
	cfg.Location, _ = time.LoadLocation(cfg.Timezone)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Manifest == "" {
		cfg.Manifest = DefaultManifest
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.SiteDir == "" {
		cfg.SiteDir = DefaultSiteDir
	}
	if cfg.LedgerFile == "" {
		cfg.LedgerFile = DefaultLedgerFile
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	v := &cfg.Video
	if v.LoopFrameRate == 0 {
		v.LoopFrameRate = DefaultLoopFrameRate
	}
	if v.LoopDurationSeconds == 0 {
		v.LoopDurationSeconds = DefaultLoopDuration
	}
	if v.LegacyTextureWidth == 0 {
		v.LegacyTextureWidth = DefaultLegacyWidth
	}
	if v.LegacyName == "" {
		v.LegacyName = DefaultLegacyName
	}
	if v.Encoder == "" {
		v.Encoder = DefaultEncoder
	}
	if v.GridColumns == 0 {
		v.GridColumns = DefaultGridColumns
	}
	if v.GridAspectRatio == 0 {
		v.GridAspectRatio = math.Sqrt2
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = []Variant{{
			Suffix:             "",
			Video:              true,
			RemoteFileID:       "$" + envPrimaryRemoteFileID,
			LegacyRemoteFileID: "$" + envLegacyRemoteFileID,
		}}
	}
	for i := range cfg.Variants {
		if cfg.Variants[i].Video && cfg.Variants[i].Template == "" {
			cfg.Variants[i].Template = filepath.Join(cfg.DataDir, DefaultTemplatePrefix+cfg.Variants[i].Suffix+".png")
		}
	}
}

// resolveEnv expands remote file ids written as "$NAME".
func resolveEnv(cfg *Config) {
	for i := range cfg.Variants {
		v := &cfg.Variants[i]
		v.RemoteFileID = expand(v.RemoteFileID)
		v.LegacyRemoteFileID = expand(v.LegacyRemoteFileID)
	}
}

func expand(s string) string {
	if name, ok := strings.CutPrefix(s, "$"); ok {
		return os.Getenv(name)
	}
	return s
}

func validate(cfg *Config) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	cfg.Location = loc

	seen := make(map[string]bool, len(cfg.Variants))
	for _, v := range cfg.Variants {
		if seen[v.Suffix] {
			return fmt.Errorf("variants: duplicate suffix %q", v.Suffix)
		}
		seen[v.Suffix] = true
		if strings.ContainsAny(v.Suffix, `/\`) {
			return fmt.Errorf("variants: suffix %q must not contain path separators", v.Suffix)
		}
		if !v.Video && (v.RemoteFileID != "" || v.LegacyRemoteFileID != "") {
			return fmt.Errorf("variants: still variant %s cannot be pushed to remote storage", v.Name())
		}
	}

	if cfg.Video.LoopFrameRate < 1 {
		return errors.New("video.loop_frame_rate must be positive")
	}
	if cfg.Video.LoopDurationSeconds <= 0 {
		return errors.New("video.loop_duration_seconds must be positive")
	}
	if cfg.Video.LegacyTextureWidth < 2 || cfg.Video.LegacyTextureWidth%2 != 0 {
		return errors.New("video.legacy_texture_width must be a positive even number")
	}
	if cfg.Video.GridColumns < 1 {
		return errors.New("video.grid_columns must be positive")
	}
	if cfg.Video.GridAspectRatio <= 0 {
		return errors.New("video.grid_aspect_ratio must be positive")
	}
	return nil
}

// LedgerPath is where the timestamp ledger lives.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, c.LedgerFile)
}

// CachePath is the persisted canvas of a variant.
func (c *Config) CachePath(v Variant) string {
	return filepath.Join(c.DataDir, DefaultCachePrefix+v.Suffix+".png")
}

// VideoPath is the native-resolution video of a video variant.
func (c *Config) VideoPath(v Variant) string {
	return filepath.Join(c.SiteDir, DefaultOutputPrefix+v.Suffix+".mp4")
}

// LegacyVideoPath is the rescaled copy for legacy hardware.
func (c *Config) LegacyVideoPath(v Variant) string {
	return filepath.Join(c.SiteDir, DefaultOutputPrefix+v.Suffix+c.Video.LegacyName+".mp4")
}

// StillPath is the published image of a still variant.
func (c *Config) StillPath(v Variant) string {
	return filepath.Join(c.SiteDir, DefaultOutputPrefix+v.Suffix+".png")
}
