package cli

import (
	"fmt"
	"image"
	_ "image/png"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/postersync/internal/compose"
	"github.com/ivlev/postersync/internal/config"
	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/publish"
	"github.com/ivlev/postersync/internal/system"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, tools and credentials without fetching anything",
	Args:  cobra.NoArgs,
	RunE:  doctorAction,
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	printCheck := func(pass bool, format string, args ...any) {
		mark := "FAIL"
		if pass {
			mark = " OK "
		}
		fmt.Fprintf(out, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
	}
	printInfo := func(format string, args ...any) {
		fmt.Fprintf(out, "[INFO] %s\n", fmt.Sprintf(format, args...))
	}
	ok := true

	if err := config.LoadDotEnv(dotEnvFiles...); err != nil {
		printCheck(false, "dotenv: %v", err)
		ok = false
	}

	// Settings
	cfg, err := config.Load(configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		printCheck(false, "%v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "settings (%d variants, timezone %s)", len(cfg.Variants), cfg.Timezone)

	// Manifest
	descriptors, err := poster.LoadManifest(cfg.Manifest)
	if err != nil {
		printCheck(false, "manifest %s: %v", cfg.Manifest, err)
		ok = false
	} else if err := publish.Validate(cfg, descriptors); err != nil {
		printCheck(false, "manifest %s: %v", cfg.Manifest, err)
		ok = false
	} else {
		printCheck(true, "manifest %s (%d posters)", cfg.Manifest, len(descriptors))
	}

	// Transcoder
	if needsFFmpeg(cfg, descriptors) {
		if err := system.CheckTools("ffmpeg"); err != nil {
			printCheck(false, "%v", err)
			ok = false
		} else {
			encoder := cfg.Video.Encoder
			if encoder == encoderAuto {
				encoder = system.GetBestH264Encoder()
			}
			printCheck(true, "ffmpeg (encoder %s)", encoder)
		}
	}

	// Credentials
	env, err := config.LoadEnv("")
	switch {
	case err != nil:
		printCheck(false, "%v", err)
		ok = false
	case usesKind(descriptors, poster.KindGoogleDrive) || hasRemote(cfg):
		if err := env.RequireCredentials(); err != nil {
			printCheck(false, "%v", err)
			ok = false
		} else {
			printCheck(true, "google credentials")
		}
	}
	if env != nil && env.GitHubToken == "" && usesKind(descriptors, poster.KindGitHub) {
		printInfo("%s unset: GitHub API requests are rate limited per IP", config.EnvGitHubToken)
	}

	// Canvases
	var largest uint64
	for _, v := range cfg.Variants {
		cache := cfg.CachePath(v)
		if fileExists(cache) {
			if w, h, err := imageSize(cache); err == nil {
				largest = max(largest, system.CanvasBytes(w, h))
			}
			continue
		}
		printInfo("variant %s has no cache; the next run rebuilds every poster", v.Name())
		if v.Video {
			w, h, err := imageSize(v.Template)
			if err != nil {
				printCheck(false, "template for variant %s: %v", v.Name(), err)
				ok = false
				continue
			}
			largest = max(largest, system.CanvasBytes(w, h))
			continue
		}
		b := compose.Bounds(variantRects(v, descriptors))
		largest = max(largest, system.CanvasBytes(b.Dx(), b.Dy()))
	}

	// Memory
	if avail, err := system.AvailableMemory(); err != nil {
		printInfo("memory: %v", err)
	} else if largest > 0 {
		// Canvas, resized poster and encoded PNG are held at once.
		need := largest * 3
		printCheck(avail > need, "memory: %s available, largest canvas needs ~%s", humanize.IBytes(avail), humanize.IBytes(need))
		ok = ok && avail > need
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}

func variantRects(v config.Variant, descriptors []poster.Descriptor) []poster.Rect {
	var rects []poster.Rect
	for _, d := range descriptors {
		if d.HasSuffix(v.Suffix) && d.Rect != nil {
			rects = append(rects, *d.Rect)
		}
	}
	return rects
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	c, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return c.Width, c.Height, nil
}
