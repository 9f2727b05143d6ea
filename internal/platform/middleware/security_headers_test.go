package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runSecurityHeaders(t *testing.T, hsts bool, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/intake/sessions/s-1/ocr-results", nil)
	rec := httptest.NewRecorder()
	err := SecurityHeaders(hsts)(handler)(e.NewContext(req, rec))
	return rec, err
}

func TestSecurityHeaders(t *testing.T) {
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	tests := []struct {
		name     string
		hsts     bool
		wantHSTS string
	}{
		{"production", true, "max-age=31536000; includeSubDomains"},
		{"development", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := runSecurityHeaders(t, tt.hsts, ok)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := map[string]string{
				"X-Content-Type-Options":    "nosniff",
				"X-Frame-Options":           "DENY",
				"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
				"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
				"Cache-Control":             "no-store",
				"Pragma":                    "no-cache",
				"Strict-Transport-Security": tt.wantHSTS,
			}
			for header, v := range want {
				if got := rec.Header().Get(header); got != v {
					t.Errorf("header %s: got %q, want %q", header, got, v)
				}
			}
			if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
				t.Errorf("expected the handler response, got %d %q", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSecurityHeaders_PropagatesHandlerError(t *testing.T) {
	boom := errors.New("store unavailable")
	rec, err := runSecurityHeaders(t, false, func(echo.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected the handler error, got %v", err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected headers to be set before the handler runs")
	}
}
