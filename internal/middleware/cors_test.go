package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"tornprobability-gateway/internal/config"
)

const allowedOrigin = "https://oc.tornrevive.page"

func newCORSEcho(t *testing.T, handlerCalls *int) *echo.Echo {
	t.Helper()
	mw, err := CORS(config.CORSConfig{AllowedOriginPattern: config.DefaultAllowedOriginPattern})
	if err != nil {
		t.Fatalf("CORS() error = %v", err)
	}

	e := echo.New()
	e.Use(mw)
	h := func(c echo.Context) error {
		*handlerCalls++
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	e.GET("/scenarios", h)
	e.Match([]string{http.MethodPost, http.MethodOptions}, "/calculate", h)
	return e
}

func TestCORS_AllowedOriginGET(t *testing.T) {
	var calls int
	e := newCORSEcho(t, &calls)

	req := httptest.NewRequest(http.MethodGet, "/scenarios", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, allowedOrigin)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != allowedOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, allowedOrigin)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestCORS_DisallowedOrigins(t *testing.T) {
	origins := []string{
		"https://evil.example.com",
		"http://oc.tornrevive.page",
		"https://oc.tornrevive.page.evil.com",
		"https://www.torn.com",
	}

	for _, origin := range origins {
		t.Run(origin, func(t *testing.T) {
			var calls int
			e := newCORSEcho(t, &calls)

			req := httptest.NewRequest(http.MethodGet, "/scenarios", http.NoBody)
			req.Header.Set(echo.HeaderOrigin, origin)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
				t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
			}
			if got := rec.Header().Get(echo.HeaderAccessControlAllowCredentials); got != "" {
				t.Errorf("Access-Control-Allow-Credentials = %q, want none", got)
			}
		})
	}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	var calls int
	e := newCORSEcho(t, &calls)

	req := httptest.NewRequest(http.MethodOptions, "/calculate", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, allowedOrigin)
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	req.Header.Set(echo.HeaderAccessControlRequestHeaders, "Content-Type, X-Custom-Thing")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if calls != 0 {
		t.Errorf("handler calls = %d, want preflight answered by the policy", calls)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != allowedOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, allowedOrigin)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowHeaders); got != "Content-Type, X-Custom-Thing" {
		t.Errorf("Access-Control-Allow-Headers = %q, want requested headers echoed", got)
	}

	methods := rec.Header().Get(echo.HeaderAccessControlAllowMethods)
	for _, m := range []string{"OPTIONS", "HEAD", "GET", "POST"} {
		if !strings.Contains(methods, m) {
			t.Errorf("Access-Control-Allow-Methods = %q, missing %s", methods, m)
		}
	}
	if strings.Contains(methods, "DELETE") {
		t.Errorf("Access-Control-Allow-Methods = %q, must not include DELETE", methods)
	}
}

func TestCORS_PreflightDisallowed(t *testing.T) {
	var calls int
	e := newCORSEcho(t, &calls)

	req := httptest.NewRequest(http.MethodOptions, "/calculate", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowMethods); got != "" {
		t.Errorf("Access-Control-Allow-Methods = %q, want none", got)
	}
	if calls != 0 {
		t.Errorf("handler calls = %d, want 0", calls)
	}
}

func TestCORS_SameOriginRequestPassesThrough(t *testing.T) {
	var calls int
	e := newCORSEcho(t, &calls)

	req := httptest.NewRequest(http.MethodGet, "/scenarios", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestCORS_InvalidPattern(t *testing.T) {
	if _, err := CORS(config.CORSConfig{AllowedOriginPattern: "("}); err == nil {
		t.Fatal("CORS() expected error for invalid pattern, got nil")
	}
}

func TestCORS_PlainOptionsReachesRoute(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
	}{
		{"no origin", nil},
		{"origin without request method", map[string]string{echo.HeaderOrigin: allowedOrigin}},
		{"request method without origin", map[string]string{echo.HeaderAccessControlRequestMethod: http.MethodPost}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			e := newCORSEcho(t, &calls)

			req := httptest.NewRequest(http.MethodOptions, "/calculate", http.NoBody)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if calls != 1 {
				t.Errorf("handler calls = %d, want 1", calls)
			}
			if got := rec.Header().Get(echo.HeaderAccessControlAllowMethods); got != "" {
				t.Errorf("Access-Control-Allow-Methods = %q, want none outside a preflight", got)
			}
		})
	}
}
