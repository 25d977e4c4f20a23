package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"calendar-sync/core/config"
	_ "calendar-sync/docs"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/ratelimit"

	"github.com/labstack/echo/v4"
)

func TestRateLimitsOverlayDefaults(t *testing.T) {
	defaults := ratelimit.DefaultLimits()
	got := rateLimits(config.RateLimitConfig{
		Google: config.ProviderLimits{UserPerSecond: 2, UserPerMinute: 60},
	})

	g := got[provider.Google]
	if g.AppPerSecond != defaults[provider.Google].AppPerSecond {
		t.Errorf("expected default app cap %d, got %d", defaults[provider.Google].AppPerSecond, g.AppPerSecond)
	}
	if g.UserPerSecond != 2 || g.UserPerMinute != 60 {
		t.Errorf("expected configured user caps, got %+v", g)
	}
	if got[provider.CalDAV] != defaults[provider.CalDAV] {
		t.Errorf("expected caldav untouched, got %+v", got[provider.CalDAV])
	}
}

func TestSwaggerDocServed(t *testing.T) {
	e := echo.New()
	mountDocs(e)

	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc struct {
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("expected valid json, got %v", err)
	}
	if doc.BasePath != "/api/v1" {
		t.Errorf("expected base path /api/v1, got %q", doc.BasePath)
	}
	routes := map[string]string{
		"/private/connections":                            "get",
		"/private/connections/caldav":                     "post",
		"/private/sources/{id}/outbound":                  "post",
		"/private/focus-blocks/{id}":                      "delete",
		"/webhooks/microsoft/{connection_id}/{source_id}": "post",
	}
	for path, method := range routes {
		if _, ok := doc.Paths[path][method]; !ok {
			t.Errorf("expected %s %s documented", method, path)
		}
	}
}
