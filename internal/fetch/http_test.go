package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u
}

func TestHTTPDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "calprov" {
			t.Errorf("user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := NewHTTP(5*time.Second).Download(context.Background(), mustURL(t, srv.URL+"/ron.traineddata"), &buf)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != int64(len("model-bytes")) || buf.String() != "model-bytes" {
		t.Fatalf("unexpected body %q (%d)", buf.String(), n)
	}
}

func TestHTTPDownloadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	var buf bytes.Buffer
	if _, err := NewHTTP(5*time.Second).Download(context.Background(), mustURL(t, srv.URL), &buf); err == nil {
		t.Fatalf("expected error on 404")
	}
	if buf.Len() != 0 {
		t.Fatalf("error body must not be written")
	}
}

func TestHTTPDownloadCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHTTP(5*time.Second).Download(ctx, mustURL(t, srv.URL), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestSFTPRequiresUser(t *testing.T) {
	s := &SFTP{KeyPath: filepath.Join(t.TempDir(), "key"), KnownHosts: filepath.Join(t.TempDir(), "kh")}
	if _, err := s.Download(context.Background(), mustURL(t, "sftp://mirror.local/tessdata/ron.traineddata"), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without user")
	}
}

func TestSFTPMissingKey(t *testing.T) {
	s := &SFTP{User: "calprov", KeyPath: filepath.Join(t.TempDir(), "key"), KnownHosts: filepath.Join(t.TempDir(), "kh")}
	if _, err := s.Download(context.Background(), mustURL(t, "sftp://mirror.local:2222/ron.traineddata"), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
