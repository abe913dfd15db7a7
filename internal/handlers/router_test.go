package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	router := NewRouter(
		WithHealthHandlers(NewHealthHandlers(WithHealthClock(func() time.Time { return fixedNow }))),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("orders_created_total 1\n"))
		})),
	)

	cases := []struct {
		path   string
		status int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/v1/orders", http.StatusNotImplemented},
		{"/api/v1/unknown", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, rr.Code)
		}
	}
}

func TestNewRouterNotFoundEnvelope(t *testing.T) {
	router := NewRouter()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/unknown%0Aforged", nil))

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found, got %v", body["error"])
	}
	if msg, _ := body["message"].(string); msg != "no route for /api/v1/unknownforged" {
		t.Fatalf("expected control characters stripped from path, got %q", msg)
	}
}

func TestNewRouterMountsRegistrars(t *testing.T) {
	var hits []string
	registrar := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				hits = append(hits, name)
				w.WriteHeader(http.StatusOK)
			})
		}
	}
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Internal", "1")
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithOrderRoutes(registrar("orders")),
		WithAdminRoutes(registrar("admin")),
		WithInternalRoutes(registrar("internal")),
		WithInternalMiddlewares(marker),
	)

	for _, path := range []string{"/api/v1/orders", "/api/v1/admin", "/api/v1/internal"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if path == "/api/v1/internal" && rr.Header().Get("X-Internal") != "1" {
			t.Fatal("expected internal middleware to run")
		}
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %v", hits)
	}
}

func TestHealthHandlers(t *testing.T) {
	start := fixedNow.Add(-90 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return fixedNow }),
		WithReadinessCheck("postgres", func(context.Context) error { return nil }),
		WithReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if body["version"] != "1.2.0" || body["commitSha"] != "abc123" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected healthz body %v", body)
	}

	rr = httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	failed, _ := body["failed"].([]any)
	if len(failed) != 1 || failed[0] != "redis" {
		t.Fatalf("expected redis to fail, got %v", body["failed"])
	}
}
