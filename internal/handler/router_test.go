package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/classwatch/internal/metrics"
)

// mockHealthChecker はHealthCheckerのテスト用モック。
type mockHealthChecker struct {
	pingErr error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.pingErr
}

func TestRouter_HealthOK(t *testing.T) {
	router := NewRouter(&RouterDeps{
		HealthChecker: &mockHealthChecker{},
		Gatherer:      prometheus.NewRegistry(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRouter_HealthUnavailable(t *testing.T) {
	router := NewRouter(&RouterDeps{
		HealthChecker: &mockHealthChecker{pingErr: errors.New("connection refused")},
		Gatherer:      prometheus.NewRegistry(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), `"status":"unhealthy"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.RecordCheckSuccess("id-1")

	router := NewRouter(&RouterDeps{
		HealthChecker: &mockHealthChecker{},
		Gatherer:      registry,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "classwatch_check_success_total 1") {
		t.Errorf("メトリクスが公開されていない: %q", rec.Body.String())
	}
}
