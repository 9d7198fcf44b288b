package httploop

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Tamillat/wget/internal/quota"
	"github.com/Tamillat/wget/pkg/types"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestFetchSavesFile(t *testing.T) {
	body := strings.Repeat("payload ", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tracker := quota.NewTracker(0)
	loop := New(Options{OutputDir: dir}, tracker, nil)

	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/data.bin"), nil, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if outcome.Status != types.StatusOK {
		t.Errorf("Status = %v, want StatusOK", outcome.Status)
	}
	if !outcome.Flags.Succeeded || outcome.Flags.IsHTML {
		t.Errorf("Flags = %+v", outcome.Flags)
	}
	want := filepath.Join(dir, "data.bin")
	if outcome.LocalFile != want {
		t.Errorf("LocalFile = %q, want %q", outcome.LocalFile, want)
	}
	saved, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != body {
		t.Error("saved body differs from served body")
	}
	if got := tracker.Total(); got != uint64(len(body)) {
		t.Errorf("tracker counted %d bytes, want %d", got, len(body))
	}
}

func TestFetchMarksHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	loop := New(Options{OutputDir: t.TempDir()}, nil, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/page"), nil, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !outcome.Flags.IsHTML {
		t.Error("text/html response not flagged as HTML")
	}
}

func TestFetchSurfacesRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://elsewhere.example/next", http.StatusFound)
	}))
	defer srv.Close()

	loop := New(Options{OutputDir: t.TempDir()}, nil, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/start"), nil, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if outcome.Status != types.StatusNewLocation {
		t.Fatalf("Status = %v, want StatusNewLocation", outcome.Status)
	}
	if outcome.NewLocation != "http://elsewhere.example/next" {
		t.Errorf("NewLocation = %q", outcome.NewLocation)
	}
	if outcome.LocalFile != "" {
		t.Error("redirect outcome wrote a file")
	}
}

func TestFetchWrongCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	loop := New(Options{OutputDir: t.TempDir()}, nil, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/missing"), nil, "")
	if !errors.Is(err, types.ErrWrongResponse) {
		t.Fatalf("Fetch() error = %v, want ErrWrongResponse", err)
	}
	if outcome.Status != types.StatusWrongCode {
		t.Errorf("Status = %v, want StatusWrongCode", outcome.Status)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening any more

	loop := New(Options{OutputDir: t.TempDir()}, nil, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/x"), nil, "")
	if !errors.Is(err, types.ErrConnection) {
		t.Fatalf("Fetch() error = %v, want ErrConnection", err)
	}
	if outcome.Status != types.StatusConnError {
		t.Errorf("Status = %v, want StatusConnError", outcome.Status)
	}
}

func TestFetchResumesWithRange(t *testing.T) {
	full := "0123456789abcdef"
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "bytes=8-" {
			w.Header().Set("Content-Range", "bytes 8-15/16")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(full[8:]))
			return
		}
		_, _ = w.Write([]byte(full))
	}))
	defer srv.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(local, []byte(full[:8]), 0o644); err != nil {
		t.Fatal(err)
	}

	tracker := quota.NewTracker(0)
	loop := New(Options{OutputDir: dir, Continue: true}, tracker, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/file.bin"), nil, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotRange != "bytes=8-" {
		t.Errorf("Range header = %q, want resume from existing size", gotRange)
	}
	saved, err := os.ReadFile(outcome.LocalFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != full {
		t.Errorf("resumed file = %q, want %q", saved, full)
	}
	// Only the freshly transferred tail counts against the quota.
	if got := tracker.Total(); got != 8 {
		t.Errorf("tracker counted %d bytes, want 8", got)
	}
}

func TestFetchRestartsWhenRangeIgnored(t *testing.T) {
	full := "complete body from scratch"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore the Range header and serve everything with a 200.
		_, _ = w.Write([]byte(full))
	}))
	defer srv.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(local, []byte("stale partial data"), 0o644); err != nil {
		t.Fatal(err)
	}

	loop := New(Options{OutputDir: dir, Continue: true}, nil, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/file.bin"), nil, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	saved, err := os.ReadFile(outcome.LocalFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != full {
		t.Errorf("file = %q, want the stale partial replaced by the full body", saved)
	}
}

func TestFetchDecodesGzip(t *testing.T) {
	plain := strings.Repeat("compressible content ", 50)
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write([]byte(plain)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	loop := New(Options{OutputDir: t.TempDir()}, nil, nil)
	outcome, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/doc.txt"), nil, "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	saved, err := os.ReadFile(outcome.LocalFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != plain {
		t.Error("gzip body not decoded before saving")
	}
}

func TestFetchSendsIdentityHeaders(t *testing.T) {
	var gotUA, gotReferer, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotCustom = r.Header.Get("X-Custom")
	}))
	defer srv.Close()

	loop := New(Options{
		OutputDir: t.TempDir(),
		UserAgent: "agent/1.0",
		Headers:   map[string]string{"X-Custom": "yes"},
	}, nil, nil)

	_, err := loop.Fetch(context.Background(), mustParse(t, srv.URL+"/x"), nil, "http://ref.example/")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotUA != "agent/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotReferer != "http://ref.example/" {
		t.Errorf("Referer = %q", gotReferer)
	}
	if gotCustom != "yes" {
		t.Errorf("X-Custom = %q", gotCustom)
	}
}

func TestLocalPath(t *testing.T) {
	loop := New(Options{OutputDir: "/out"}, nil, nil)
	tests := []struct {
		rawURL string
		want   string
	}{
		{"http://example.com/dir/file.txt", filepath.Join("/out", "file.txt")},
		{"http://example.com/", filepath.Join("/out", "index.html")},
		{"http://example.com", filepath.Join("/out", "index.html")},
		{"http://example.com/dir/", filepath.Join("/out", "dir")},
	}
	for _, tt := range tests {
		u := mustParse(t, tt.rawURL)
		if got := loop.localPath(u); got != tt.want {
			t.Errorf("localPath(%q) = %q, want %q", tt.rawURL, got, tt.want)
		}
	}
}
