package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func TestDriveUpload(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "file-9"}`))
	}))
	defer ts.Close()

	srv, err := drive.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := NewDrive(srv).Upload(context.Background(), "file-9", strings.NewReader("mp4-bytes")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", gotMethod)
	}
	if !strings.HasSuffix(gotPath, "/files/file-9") {
		t.Errorf("path = %s", gotPath)
	}
	if !strings.Contains(gotBody, "mp4-bytes") {
		t.Errorf("body does not carry the media: %q", gotBody)
	}
}

func TestDriveUploadError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "denied"}}`))
	}))
	defer ts.Close()

	srv, err := drive.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	err = NewDrive(srv).Upload(context.Background(), "file-9", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "file-9") {
		t.Errorf("error = %v", err)
	}
}
