package cli

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/postersync/internal/compose"
	"github.com/ivlev/postersync/internal/config"
	"github.com/ivlev/postersync/internal/source"
	"github.com/ivlev/postersync/internal/video"
)

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExecuteVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.HasPrefix(out, "postersync ") {
		t.Errorf("output = %q", out)
	}
}

// stillSetup writes a settings file and manifest for one still variant fed
// by a URL poster served by srv.
func stillSetup(t *testing.T, srvURL string) (cfgPath, siteDir string) {
	t.Helper()
	root := t.TempDir()
	siteDir = filepath.Join(root, "site")
	manifest := filepath.Join(root, "posters.yaml")
	err := os.WriteFile(manifest, []byte(fmt.Sprintf(`
- id: hall
  type: url
  url: %s/hall.png
  rect: {x: 10, y: 0, width: 20, height: 20}
  versionSuffixes: ["-v4"]
`, srvURL)), 0644)
	if err != nil {
		t.Fatal(err)
	}
	cfgPath = filepath.Join(root, "postersync.yaml")
	err = os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
manifest: %s
data_dir: %s
site_dir: %s
variants:
  - suffix: "-v4"
`, manifest, filepath.Join(root, "data"), siteDir)), 0644)
	if err != nil {
		t.Fatal(err)
	}
	return cfgPath, siteDir
}

func posterServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hall.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		img := image.NewRGBA(image.Rect(0, 0, 20, 20))
		for i := range img.Pix {
			img.Pix[i] = 0xff
		}
		_ = png.Encode(w, img)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestSyncStillVariant(t *testing.T) {
	ts := posterServer(t)
	cfgPath, siteDir := stillSetup(t, ts.URL)
	output := filepath.Join(t.TempDir(), "github_output")
	t.Setenv(config.EnvGitHubOutput, output)
	t.Setenv(config.EnvLogFormat, "text")
	t.Setenv(config.EnvGoogleCredentials, "")

	if out, err := execute(t, "--config", cfgPath); err != nil {
		t.Fatalf("sync failed: %v\n%s", err, out)
	}
	img, err := compose.Load(filepath.Join(siteDir, "posters-v4.png"))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 30 || img.RGBAAt(15, 5) != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) || img.RGBAAt(5, 5) != (color.RGBA{A: 255}) {
		t.Errorf("still = %v, pixels %v / %v", img.Bounds(), img.RGBAAt(15, 5), img.RGBAAt(5, 5))
	}
	data, err := os.ReadFile(output)
	if err != nil || !strings.Contains(string(data), "updated=on") {
		t.Errorf("completion file = %q, %v", data, err)
	}

	// Second run: nothing changed, nothing signalled.
	if err := os.Remove(output); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", cfgPath)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("completion signal emitted without updates")
	}
	if !strings.Contains(out, "no updates") {
		t.Errorf("log = %q", out)
	}
}

func TestSyncMissingSettings(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want config.Error", err)
	}
}

func TestDoctor(t *testing.T) {
	ts := posterServer(t)
	cfgPath, _ := stillSetup(t, ts.URL)
	t.Setenv(config.EnvGoogleCredentials, "")

	out, err := execute(t, "doctor", "--config", cfgPath)
	if err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out)
	}
	for _, want := range []string{"[ OK ] settings", "[ OK ] manifest", "no cache"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("run: %w", &source.FetchError{ID: "A", Op: "timestamp", Err: errors.New("HTTP 500")}), "poster A: timestamp fetch failed"},
		{&compose.DecodeError{ID: "B", Err: errors.New("bad header")}, "poster B: not a decodable image"},
		{fmt.Errorf("variant -v4: %w", &video.TranscodeError{Op: "loop", ExitCode: 1}), "variant -v4"},
		{&config.Error{What: "manifest", Err: errors.New("empty")}, "configuration: config: manifest: empty"},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
