package download

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/catalog-enricher/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testPNG генерирует PNG заданного размера.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestFetcher(maxBytes int64) *HTTPFetcher {
	opts := retry.Options{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return NewHTTPFetcher(&http.Client{Timeout: 5 * time.Second}, maxBytes, retry.New(testLogger()), opts, testLogger())
}

func TestFetch_Success(t *testing.T) {
	body := testPNG(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	got, err := newTestFetcher(1 << 20).Fetch(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("получено %d байт, ожидается %d", len(got), len(body))
	}
}

func TestFetch_OctetStreamDetectedAsImage(t *testing.T) {
	body := testPNG(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(body)
	}))
	defer srv.Close()

	if _, err := newTestFetcher(1<<20).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestFetch_WrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(1<<20).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидается ErrValidation, получено %v", err)
	}
}

func TestFetch_BodyNotImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("definitely not a jpeg"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(1<<20).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидается ErrValidation, получено %v", err)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	body := testPNG(t, 64, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	_, err := newTestFetcher(int64(len(body)-1)).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидается ErrValidation, получено %v", err)
	}
}

func TestFetch_RetriesServerError(t *testing.T) {
	body := testPNG(t, 4, 4)
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if gets.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	if _, err := newTestFetcher(1<<20).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gets.Load() != 2 {
		t.Errorf("GET запросов = %d, ожидается 2", gets.Load())
	}
}

func TestFetch_NotFoundNotRetried(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(1<<20).Fetch(context.Background(), srv.URL)
	var se *retry.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидается StatusError 404, получено %v", err)
	}
	if gets.Load() != 1 {
		t.Errorf("GET запросов = %d, ожидается 1", gets.Load())
	}
}

func TestFetch_RedirectToPrivateBlocked(t *testing.T) {
	// Перенаправление на loopback должно блокироваться политикой.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "http://127.0.0.1:1/secret.png", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestFetcher(1<<20).Fetch(context.Background(), srv.URL+"/start")
	if !errors.Is(err, ErrBlockedURL) {
		t.Fatalf("ожидается ErrBlockedURL, получено %v", err)
	}
}

func TestAcceptableType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"", true},
		{"image/jpeg", true},
		{"image/webp; q=1", true},
		{"application/octet-stream", true},
		{"binary/octet-stream", true},
		{"text/html", false},
		{"application/json", false},
		{";;;", false},
	}
	for _, tt := range tests {
		if got := acceptableType(tt.ct); got != tt.want {
			t.Errorf("acceptableType(%q) = %v, ожидается %v", tt.ct, got, tt.want)
		}
	}
}
