package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	const id = "0b6f3a46-53b8-4f3c-9d0e-9d5b1a3c2f10"
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/records", "/api/v1/records"},
		{"/api/v1/records/import", "/api/v1/records/import"},
		{"/api/v1/enrich/batch", "/api/v1/enrich/batch"},
		{"/api/v1/records/" + id, "/api/v1/records/{id}"},
		{"/api/v1/records/" + id + "/enrich", "/api/v1/records/{id}/enrich"},
		{"/api/v1/records/" + id + "/translate", "/api/v1/records/{id}/translate"},
		{"/api/v1/records/" + id + "/unknown", "/api/v1/records/{id}/other"},
		{"/media/" + id + "/0.jpg", "/media/{file}"},
		{"/random/scan/path", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path, "/media"); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_CustomMediaPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"/static/img", "/static/img/abc/0.jpg", "/static/img/{file}"},
		{"/static/img/", "/static/img/abc/0.jpg", "/static/img/{file}"},
		{"/static/img", "/media/abc/0.jpg", "other"},
		{"", "/media/abc/0.jpg", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path, tt.prefix); got != tt.want {
			t.Errorf("normalizePath(%q, %q) = %q, ожидается %q", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestRequestLogger_MediaAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequestLogger(logger, "/static/img")(ok)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/static/img/abc/0.jpg", nil))
	if buf.Len() != 0 {
		t.Errorf("запрос медиа залогирован выше DEBUG: %s", buf.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))
	if !strings.Contains(buf.String(), "/api/v1/records") {
		t.Errorf("запрос API не залогирован: %q", buf.String())
	}
}
