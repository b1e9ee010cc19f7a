// Package engine runs one poster sync: detect changes, rebuild the affected
// variants, push them to remote storage and commit the new state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/postersync/internal/config"
	"github.com/ivlev/postersync/internal/detector"
	"github.com/ivlev/postersync/internal/ledger"
	"github.com/ivlev/postersync/internal/logging"
	"github.com/ivlev/postersync/internal/metrics"
	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/publish"
	"github.com/ivlev/postersync/internal/storage"
)

// CompletionLine is appended to the completion file after a run that
// published something.
const CompletionLine = "updated=on"

type Job struct {
	Config      *config.Config
	Env         *config.Env
	Descriptors []poster.Descriptor
	Detector    *detector.Detector
	Publisher   *publish.Publisher
	// Uploader may be nil when no variant has remote file ids.
	Uploader storage.Uploader
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

// Report summarises a finished run.
type Report struct {
	RunID     string
	FirstRun  bool
	Checked   int
	Skipped   int
	Updated   []string
	Published []string
	// Drawn maps each published variant to the posters redrawn on it.
	Drawn     map[string][]string
	Uploads   int

	DetectTime  time.Duration
	PublishTime time.Duration
	CommitTime  time.Duration
}

// Run executes the job. Any failure before the commit step leaves the
// ledger, caches and published files as they were.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	log := j.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cfg := j.Config
	rep := &Report{RunID: uuid.NewString(), Drawn: make(map[string][]string)}
	log = log.With("run", rep.RunID)

	prev, existed, err := ledger.Load(cfg.LedgerPath(), cfg.Location)
	if err != nil {
		return nil, err
	}
	rep.FirstRun = !existed
	// A newly declared variant has no cache and must be drawn from every
	// poster, which only a first run fetches. A variant no poster maps to
	// never gets a cache and is left out.
	for _, v := range cfg.Variants {
		if !hasPosters(j.Descriptors, v) {
			log.Warn("variant has no posters", "variant", v.Name())
			continue
		}
		ok, err := exists(cfg.CachePath(v))
		if err != nil {
			return nil, err
		}
		if !ok {
			rep.FirstRun = true
		}
	}
	if rep.FirstRun {
		log.Info("first run, rebuilding every variant", "ledger", existed, "entries", prev.Len())
	}

	start := time.Now()
	res, err := j.Detector.Detect(ctx, j.Descriptors, prev, rep.FirstRun)
	if err != nil {
		return nil, err
	}
	rep.DetectTime = time.Since(start)
	rep.Checked, rep.Skipped = res.Checked, res.Skipped
	for _, u := range res.Updates {
		rep.Updated = append(rep.Updated, u.Descriptor.ID)
	}
	if len(res.Updates) == 0 {
		logging.Notice(log, "no updates")
		if err := j.writeMetrics(); err != nil {
			log.Warn("metrics not written", "error", err)
		}
		return rep, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(cfg.DataDir, ".staging-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	pub := *j.Publisher
	pub.StagingDir = staging
	if pub.Log == nil {
		pub.Log = log
	}

	start = time.Now()
	var staged []*publish.Staged
	for _, v := range cfg.Variants {
		s, err := pub.Publish(ctx, v, j.Descriptors, res.Updates, !rep.FirstRun)
		if err != nil {
			return nil, err
		}
		if s != nil {
			staged = append(staged, s)
			rep.Published = append(rep.Published, v.Name())
			rep.Drawn[v.Name()] = s.Posters
		}
	}
	rep.PublishTime = time.Since(start)

	if publish.NeedsUploader(staged) {
		if j.Uploader == nil {
			return nil, &config.Error{What: "remote storage", Err: errors.New("variants declare remote file ids but no uploader is configured")}
		}
		n, err := publish.Push(ctx, j.Uploader, staged)
		rep.Uploads = n
		if err != nil {
			return nil, err
		}
		for range n {
			j.inc(func(m *metrics.Metrics) { m.IncUploads() })
		}
		log.Info("pushed to remote storage", "files", n)
	}

	start = time.Now()
	if err := publish.Commit(staged); err != nil {
		return nil, err
	}
	if err := res.Ledger.Save(cfg.LedgerPath()); err != nil {
		return nil, fmt.Errorf("save ledger: %w", err)
	}
	rep.CommitTime = time.Since(start)

	for _, s := range staged {
		j.inc(func(m *metrics.Metrics) { m.IncPublished(s.Variant.Suffix) })
		log.Info("variant published", "variant", s.Variant.Name(), "posters", strings.Join(s.Posters, ","))
	}
	if j.Env != nil && j.Env.CompletionFile != "" {
		if err := appendLine(j.Env.CompletionFile, CompletionLine); err != nil {
			return nil, fmt.Errorf("completion signal: %w", err)
		}
	}
	if err := j.writeMetrics(); err != nil {
		log.Warn("metrics not written", "error", err)
	}

	log.Info("sync finished",
		"updated", len(rep.Updated),
		"variants", len(rep.Published),
		"detect", rep.DetectTime.Round(time.Millisecond),
		"publish", rep.PublishTime.Round(time.Millisecond),
		"commit", rep.CommitTime.Round(time.Millisecond),
	)
	return rep, nil
}

func (j *Job) writeMetrics() error {
	if j.Metrics == nil || j.Config.MetricsTextfile == "" {
		return nil
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	j.Metrics.SetLastSuccess(float64(now().Unix()))
	return j.Metrics.WriteTextfile(j.Config.MetricsTextfile)
}

func (j *Job) inc(f func(*metrics.Metrics)) {
	if j.Metrics != nil {
		f(j.Metrics)
	}
}

func hasPosters(descriptors []poster.Descriptor, v config.Variant) bool {
	for _, d := range descriptors {
		if d.HasSuffix(v.Suffix) {
			return true
		}
	}
	return false
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString("\n" + line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
