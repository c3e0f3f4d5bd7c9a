package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MicahParks/keyfunc/v3"

	"github.com/bigkaa/catalog-enricher/internal/api/handlers"
	"github.com/bigkaa/catalog-enricher/internal/api/middleware"
	"github.com/bigkaa/catalog-enricher/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T, withAuth bool) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	recDir := filepath.Join(dir, "0b6f3a46-53b8-4f3c-9d0e-9d5b1a3c2f10")
	if err := os.MkdirAll(recDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(recDir, "0.jpg"), []byte("jpeg"), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{MediaDir: dir, MediaURLPrefix: "/media"}
	handler := handlers.NewAPIHandler(handlers.NewHealthHandler(nil, nil), nil, nil, nil, 100, testLogger())

	var auth *middleware.JWTAuth
	if withAuth {
		kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(`{"keys":[]}`))
		if err != nil {
			t.Fatalf("keyfunc: %v", err)
		}
		auth = middleware.NewJWTAuthWithKeyfunc(kf, "", 0, testLogger())
	}
	return NewRouter(cfg, testLogger(), handler, auth), "/media/0b6f3a46-53b8-4f3c-9d0e-9d5b1a3c2f10/0.jpg"
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_ServesMedia(t *testing.T) {
	router, mediaPath := newTestRouter(t, false)

	rec := get(router, mediaPath)
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Errorf("статус %d, тело %q", rec.Code, rec.Body.String())
	}
	if rec := get(router, "/media/0b6f3a46-53b8-4f3c-9d0e-9d5b1a3c2f10/"); rec.Code != http.StatusNotFound {
		t.Errorf("листинг директории: статус %d, ожидается 404", rec.Code)
	}
	if rec := get(router, "/media/missing.jpg"); rec.Code != http.StatusNotFound {
		t.Errorf("отсутствующий файл: статус %d, ожидается 404", rec.Code)
	}
}

func TestRouter_JWTExclusions(t *testing.T) {
	router, mediaPath := newTestRouter(t, true)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/records", http.StatusUnauthorized},
		{"/health/live", http.StatusOK},
		{"/metrics", http.StatusOK},
		{mediaPath, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := get(router, tt.path); rec.Code != tt.want {
				t.Errorf("статус %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}
}

func TestJWTAuthWithExclusions(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := JWTAuthWithExclusions(deny, "/health/", "/media/")(ok)

	if rec := get(h, "/health/ready"); rec.Code != http.StatusOK {
		t.Errorf("/health/ready: статус %d", rec.Code)
	}
	if rec := get(h, "/media/a/0.jpg"); rec.Code != http.StatusOK {
		t.Errorf("/media: статус %d", rec.Code)
	}
	if rec := get(h, "/api/v1/records"); rec.Code != http.StatusForbidden {
		t.Errorf("/api: статус %d, ожидается 403", rec.Code)
	}
}
