package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poyrazK/enforcerd/internal/core/ports"
)

type okDB struct{}

func (okDB) Ping(ctx context.Context) error                    { return nil }
func (okDB) BeginTx(ctx context.Context) (ports.Tx, error) { return nil, nil }

type failingDB struct{}

func (failingDB) Ping(ctx context.Context) error                    { return errors.New("connection refused") }
func (failingDB) BeginTx(ctx context.Context) (ports.Tx, error) { return nil, nil }

func TestHealthCheck_ReportsUpWhenDatabaseReachable(t *testing.T) {
	h := NewAPIHandler(okDB{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestHealthCheck_ReportsDegradedWhenDatabaseUnreachable(t *testing.T) {
	h := NewAPIHandler(failingDB{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestMetrics_ServesPrometheusFormat(t *testing.T) {
	h := NewAPIHandler(okDB{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	h.Metrics(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}
