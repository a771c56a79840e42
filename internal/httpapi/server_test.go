package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBook struct{ health model.BookHealth }

func (f fakeBook) Health() model.BookHealth { return f.health }

type fakeAnomaly struct{ health model.MarketHealth }

func (f fakeAnomaly) GetMarketHealth(now time.Time) model.MarketHealth { return f.health }

type fakeQueue struct{ depth int }

func (f fakeQueue) QueueDepth() int { return f.depth }

func TestHealthzReportsOKWhenHealthy(t *testing.T) {
	s := New(
		fakeBook{health: model.BookHealth{Status: model.HealthOK}},
		fakeAnomaly{health: model.MarketHealth{IsHealthy: true, Recommendation: model.RecommendContinue}},
		fakeQueue{depth: 3},
		http.NotFoundHandler(),
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, 3, body.QueueDepth)
}

func TestHealthzReportsDegradedWhenBookUnhealthy(t *testing.T) {
	s := New(
		fakeBook{health: model.BookHealth{Status: model.HealthStale}},
		fakeAnomaly{health: model.MarketHealth{IsHealthy: true}},
		fakeQueue{},
		http.NotFoundHandler(),
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyzAlwaysOK(t *testing.T) {
	s := New(fakeBook{}, fakeAnomaly{}, fakeQueue{}, http.NotFoundHandler(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestMetricsRouteDelegatesToHandler(t *testing.T) {
	called := false
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	s := New(fakeBook{}, fakeAnomaly{}, fakeQueue{}, metrics, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}
