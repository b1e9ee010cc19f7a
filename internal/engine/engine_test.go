package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ivlev/postersync/internal/compose"
	"github.com/ivlev/postersync/internal/config"
	"github.com/ivlev/postersync/internal/detector"
	"github.com/ivlev/postersync/internal/ledger"
	"github.com/ivlev/postersync/internal/metrics"
	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/publish"
	"github.com/ivlev/postersync/internal/source"
)

var red = color.RGBA{R: 255, A: 255}

type fakeTranscoder struct {
	calls int
}

func (f *fakeTranscoder) ImageToLoop(_ context.Context, imagePath, videoPath string) error {
	f.calls++
	return os.WriteFile(videoPath, []byte("loop"), 0644)
}

func (f *fakeTranscoder) Rescale(_ context.Context, _, dst string, _ int) error {
	f.calls++
	return os.WriteFile(dst, []byte("legacy"), 0644)
}

func (f *fakeTranscoder) FirstFrame(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("not used")
}

type fakeUploader struct {
	got  map[string]string
	fail error
}

func (u *fakeUploader) Upload(_ context.Context, fileID string, r io.Reader) error {
	if u.fail != nil {
		return u.fail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	u.got[fileID] = string(data)
	return nil
}

// gitHub serves the commits API and a Pages site for one poster file.
type gitHub struct {
	mu   sync.Mutex
	date string
}

func (g *gitHub) setDate(date string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.date = date
}

func (g *gitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	date := g.date
	g.mu.Unlock()

	switch r.URL.Path {
	case "/repos/owner/site/commits":
		fmt.Fprintf(w, `[{"commit":{"committer":{"date":%q}}}]`, date)
	case "/pages/posters/a.png":
		img := image.NewRGBA(image.Rect(0, 0, 200, 200))
		for y := 0; y < 200; y++ {
			for x := 0; x < 200; x++ {
				img.SetRGBA(x, y, red)
			}
		}
		_ = png.Encode(w, img)
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	cfg        *config.Config
	env        *config.Env
	server     *gitHub
	transcoder *fakeTranscoder
	uploader   *fakeUploader
	metrics    *metrics.Metrics
	url        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.SiteDir = filepath.Join(root, "site")
	cfg.MetricsTextfile = filepath.Join(root, "postersync.prom")
	cfg.Variants = []config.Variant{{
		Suffix:             "",
		Video:              true,
		Template:           filepath.Join(cfg.DataDir, "posters-template.png"),
		RemoteFileID:       "main-id",
		LegacyRemoteFileID: "legacy-id",
	}}
	template := image.NewRGBA(image.Rect(0, 0, 400, 400))
	if err := compose.Save(cfg.Variants[0].Template, template); err != nil {
		t.Fatal(err)
	}

	srv := &gitHub{date: "2024-03-01T10:00:00Z"}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &fixture{
		cfg:        cfg,
		env:        &config.Env{CompletionFile: filepath.Join(root, "github_output")},
		server:     srv,
		transcoder: &fakeTranscoder{},
		uploader:   &fakeUploader{got: map[string]string{}},
		metrics:    metrics.New(),
		url:        ts.URL,
	}
}

func (f *fixture) job() *Job {
	url := f.url
	gh := source.NewGitHub(http.DefaultClient, "")
	gh.APIBase = url
	gh.PagesURL = func(_, path string) (string, error) { return url + "/pages" + path, nil }

	reg := source.NewRegistry()
	reg.Register(poster.KindGitHub, gh)

	return &Job{
		Config: f.cfg,
		Env:    f.env,
		Descriptors: []poster.Descriptor{{
			ID:              "A",
			Kind:            poster.KindGitHub,
			Repository:      "owner/site",
			Branch:          "main",
			Path:            "/posters/a.png",
			Rect:            &poster.Rect{X: 0, Y: 0, W: 100, H: 100},
			VersionSuffixes: []string{""},
		}},
		Detector:  &detector.Detector{Fetcher: reg, Stills: &source.Stills{}, Metrics: f.metrics},
		Publisher: &publish.Publisher{Config: f.cfg, Transcoder: f.transcoder},
		Uploader:  f.uploader,
		Metrics:   f.metrics,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	rep, err := f.job().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.FirstRun || len(rep.Updated) != 1 || len(rep.Published) != 1 || rep.Uploads != 2 {
		t.Errorf("report = %+v", rep)
	}
	if drawn := rep.Drawn["(default)"]; len(drawn) != 1 || drawn[0] != "A" {
		t.Errorf("drawn = %v", rep.Drawn)
	}

	l, existed, err := ledger.Load(f.cfg.LedgerPath(), f.cfg.Location)
	if err != nil || !existed {
		t.Fatalf("ledger: existed=%v err=%v", existed, err)
	}
	got, ok := l.Get("A")
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !ok || !got.Equal(want) {
		t.Errorf("ledger A = %v, want %v", got, want)
	}

	cache, err := compose.Load(f.cfg.CachePath(f.cfg.Variants[0]))
	if err != nil {
		t.Fatal(err)
	}
	if cache.RGBAAt(0, 0) != red || cache.RGBAAt(99, 99) != red {
		t.Errorf("poster A not drawn at origin: %v", cache.RGBAAt(0, 0))
	}
	if cache.RGBAAt(150, 150) == red {
		t.Error("poster A drawn outside its rect")
	}

	v := f.cfg.Variants[0]
	if string(readFile(t, f.cfg.VideoPath(v))) != "loop" || string(readFile(t, f.cfg.LegacyVideoPath(v))) != "legacy" {
		t.Error("video outputs missing")
	}
	if f.uploader.got["main-id"] != "loop" || f.uploader.got["legacy-id"] != "legacy" {
		t.Errorf("uploads = %v", f.uploader.got)
	}
	if !strings.Contains(string(readFile(t, f.env.CompletionFile)), "updated=on") {
		t.Error("completion signal missing")
	}
	if !strings.Contains(string(readFile(t, f.cfg.MetricsTextfile)), "postersync_posters_updated_total 1") {
		t.Error("metrics textfile missing update counter")
	}

	entries, _ := os.ReadDir(f.cfg.DataDir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging-") {
			t.Errorf("staging directory left behind: %s", e.Name())
		}
	}
}

func TestRunNoUpdates(t *testing.T) {
	f := newFixture(t)
	if _, err := f.job().Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	ledgerBefore := readFile(t, f.cfg.LedgerPath())
	cacheBefore := readFile(t, f.cfg.CachePath(f.cfg.Variants[0]))
	signalBefore := readFile(t, f.env.CompletionFile)
	calls := f.transcoder.calls

	rep, err := f.job().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.FirstRun || len(rep.Updated) != 0 || rep.Checked != 1 {
		t.Errorf("report = %+v", rep)
	}
	if f.transcoder.calls != calls {
		t.Errorf("transcoder invoked %d times without updates", f.transcoder.calls-calls)
	}
	if !bytes.Equal(readFile(t, f.cfg.LedgerPath()), ledgerBefore) {
		t.Error("ledger rewritten")
	}
	if !bytes.Equal(readFile(t, f.cfg.CachePath(f.cfg.Variants[0])), cacheBefore) {
		t.Error("cache rewritten")
	}
	if !bytes.Equal(readFile(t, f.env.CompletionFile), signalBefore) {
		t.Error("completion signal emitted")
	}
}

func TestRunFailureLeavesState(t *testing.T) {
	f := newFixture(t)
	if _, err := f.job().Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	ledgerBefore := readFile(t, f.cfg.LedgerPath())
	cacheBefore := readFile(t, f.cfg.CachePath(f.cfg.Variants[0]))
	videoBefore := readFile(t, f.cfg.VideoPath(f.cfg.Variants[0]))

	f.server.setDate("2024-04-01T10:00:00Z")
	f.uploader.fail = errors.New("quota exceeded")

	if _, err := f.job().Run(context.Background()); err == nil {
		t.Fatal("Run succeeded despite upload failure")
	}
	if !bytes.Equal(readFile(t, f.cfg.LedgerPath()), ledgerBefore) {
		t.Error("ledger changed by failed run")
	}
	if !bytes.Equal(readFile(t, f.cfg.CachePath(f.cfg.Variants[0])), cacheBefore) {
		t.Error("cache changed by failed run")
	}
	if !bytes.Equal(readFile(t, f.cfg.VideoPath(f.cfg.Variants[0])), videoBefore) {
		t.Error("video changed by failed run")
	}

	// The next run retries from the same baseline.
	f.uploader.fail = nil
	rep, err := f.job().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Updated) != 1 {
		t.Errorf("retry updated %v", rep.Updated)
	}
}

func TestRunIgnoresVariantWithoutPosters(t *testing.T) {
	f := newFixture(t)
	f.cfg.Variants = append(f.cfg.Variants, config.Variant{Suffix: "-v4"})

	rep, err := f.job().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.FirstRun || len(rep.Published) != 1 {
		t.Errorf("first report = %+v", rep)
	}
	calls := f.transcoder.calls

	rep, err = f.job().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.FirstRun || len(rep.Updated) != 0 {
		t.Errorf("second run: first=%v updated=%v, want an unchanged run", rep.FirstRun, rep.Updated)
	}
	if f.transcoder.calls != calls {
		t.Errorf("transcoder invoked %d times on an unchanged run", f.transcoder.calls-calls)
	}
	if _, err := os.Stat(f.cfg.CachePath(f.cfg.Variants[1])); !os.IsNotExist(err) {
		t.Error("cache written for a variant without posters")
	}
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture(t)
	j := f.job()
	j.Descriptors[0].Repository = "owner/missing"

	_, err := j.Run(context.Background())
	var fe *source.FetchError
	if !errors.As(err, &fe) || fe.ID != "A" {
		t.Fatalf("error = %v, want FetchError for A", err)
	}
	if _, err := os.Stat(f.cfg.LedgerPath()); !os.IsNotExist(err) {
		t.Error("ledger written after fetch failure")
	}
}

func TestRunWithoutUploader(t *testing.T) {
	f := newFixture(t)
	j := f.job()
	j.Uploader = nil

	_, err := j.Run(context.Background())
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want config.Error", err)
	}
	if _, err := os.Stat(f.cfg.VideoPath(f.cfg.Variants[0])); !os.IsNotExist(err) {
		t.Error("video committed without uploader")
	}
}
