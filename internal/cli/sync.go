package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/postersync/internal/compose"
	"github.com/ivlev/postersync/internal/config"
	"github.com/ivlev/postersync/internal/detector"
	"github.com/ivlev/postersync/internal/engine"
	"github.com/ivlev/postersync/internal/logging"
	"github.com/ivlev/postersync/internal/metrics"
	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/publish"
	"github.com/ivlev/postersync/internal/source"
	"github.com/ivlev/postersync/internal/storage"
	"github.com/ivlev/postersync/internal/system"
	"github.com/ivlev/postersync/internal/video"
)

const encoderAuto = "auto"

func syncAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log := logging.New(cmd.OutOrStdout(), settings.env.LogLevel, settings.env.LogFormat)

	job, err := buildJob(ctx, settings, log)
	if err != nil {
		log.Error(describe(err))
		return err
	}
	rep, err := job.Run(ctx)
	if err != nil {
		log.Error(describe(err))
		return err
	}
	if len(rep.Updated) > 0 {
		logging.Notice(log, fmt.Sprintf("published %d variant(s) from %d updated poster(s)", len(rep.Published), len(rep.Updated)))
	}
	return nil
}

type settings struct {
	cfg         *config.Config
	env         *config.Env
	descriptors []poster.Descriptor
}

// loadSettings resolves every piece of configuration before any network
// activity.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	if err := config.LoadDotEnv(dotEnvFiles...); err != nil {
		return nil, &config.Error{What: "dotenv", Err: err}
	}
	cfg, err := config.Load(configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv("")
	if err != nil {
		return nil, err
	}
	descriptors, err := poster.LoadManifest(cfg.Manifest)
	if err != nil {
		return nil, &config.Error{What: "manifest " + cfg.Manifest, Err: err}
	}
	if err := publish.Validate(cfg, descriptors); err != nil {
		return nil, err
	}
	return &settings{cfg: cfg, env: env, descriptors: descriptors}, nil
}

func buildJob(ctx context.Context, s *settings, log *slog.Logger) (*engine.Job, error) {
	cfg, env := s.cfg, s.env

	if needsFFmpeg(cfg, s.descriptors) {
		if err := system.CheckTools("ffmpeg"); err != nil {
			return nil, &config.Error{What: "transcoder", Err: err}
		}
	}
	encoder := cfg.Video.Encoder
	if encoder == encoderAuto {
		encoder = system.GetBestH264Encoder()
	}
	log.Debug("transcoder", "encoder", encoder)
	ff := &video.FFmpeg{
		Encoder:      encoder,
		FrameRate:    cfg.Video.LoopFrameRate,
		LoopDuration: cfg.Video.LoopDurationSeconds,
	}

	client := &http.Client{}
	registry := source.NewRegistry()
	registry.Register(poster.KindGitHub, source.NewGitHub(client, env.GitHubToken))
	registry.Register(poster.KindURL, source.NewURL(client))

	var uploader storage.Uploader
	needDrive, needUpload := usesKind(s.descriptors, poster.KindGoogleDrive), hasRemote(cfg)
	if needDrive || needUpload {
		if err := env.RequireCredentials(); err != nil {
			return nil, err
		}
		srv, err := storage.NewDriveService(ctx, env.GoogleCredentials)
		if err != nil {
			return nil, &config.Error{What: "google credentials", Err: err}
		}
		if needDrive {
			registry.Register(poster.KindGoogleDrive, source.NewDrive(srv))
		}
		if needUpload {
			uploader = storage.NewDrive(srv)
		}
	}
	if err := registry.Check(s.descriptors); err != nil {
		return nil, &config.Error{What: "sources", Err: err}
	}

	m := metrics.New()
	return &engine.Job{
		Config:      cfg,
		Env:         env,
		Descriptors: s.descriptors,
		Detector: &detector.Detector{
			Fetcher: registry,
			Stills:  &source.Stills{Frames: ff},
			Log:     log,
			Metrics: m,
		},
		Publisher: &publish.Publisher{Config: cfg, Transcoder: ff, Log: log},
		Uploader:  uploader,
		Metrics:   m,
		Log:       log,
	}, nil
}

func needsFFmpeg(cfg *config.Config, descriptors []poster.Descriptor) bool {
	for _, v := range cfg.Variants {
		if v.Video {
			return true
		}
	}
	for _, d := range descriptors {
		if d.FileType == poster.FileTypeMP4 {
			return true
		}
	}
	return false
}

func usesKind(descriptors []poster.Descriptor, kind poster.Kind) bool {
	for _, d := range descriptors {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func hasRemote(cfg *config.Config) bool {
	for _, v := range cfg.Variants {
		if v.RemoteFileID != "" || v.LegacyRemoteFileID != "" {
			return true
		}
	}
	return false
}

// describe names the failing poster or stage for the run log.
func describe(err error) string {
	var (
		fe *source.FetchError
		de *compose.DecodeError
		te *video.TranscodeError
		ce *config.Error
	)
	switch {
	case errors.As(err, &fe):
		return fmt.Sprintf("poster %s: %s fetch failed: %v", fe.ID, fe.Op, fe.Err)
	case errors.As(err, &de):
		return fmt.Sprintf("poster %s: not a decodable image: %v", de.ID, de.Err)
	case errors.As(err, &te):
		return fmt.Sprintf("transcode failed: %v", err)
	case errors.As(err, &ce):
		return fmt.Sprintf("configuration: %v", ce)
	default:
		return err.Error()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
