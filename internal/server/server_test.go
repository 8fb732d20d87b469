package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/surveysync/internal/config"
	"github.com/arwahdevops/surveysync/internal/metrics"
)

type fakePinger struct {
	err   error
	conns int
}

func (f fakePinger) Ping(context.Context) error { return f.err }
func (f fakePinger) OpenConnections() int       { return f.conns }

func TestReadiness(t *testing.T) {
	testCases := []struct {
		name       string
		conn       Pinger
		expectCode int
	}{
		{name: "Ready", conn: fakePinger{conns: 2}, expectCode: http.StatusOK},
		{name: "Ping Fails", conn: fakePinger{err: errors.New("refused")}, expectCode: http.StatusServiceUnavailable},
		{name: "No Connection", conn: nil, expectCode: http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := metrics.NewMetricsStore()
			mux := NewMux(&config.Config{}, store, tc.conn, zaptest.NewLogger(t))

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.expectCode, rec.Code)
		})
	}
}

func TestReadinessRecordsOpenConnections(t *testing.T) {
	store := metrics.NewMetricsStore()
	mux := NewMux(&config.Config{}, store, fakePinger{conns: 3}, zaptest.NewLogger(t))

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, 3.0, testutil.ToFloat64(store.DBOpenConnections))
}

func TestHealthAndMetrics(t *testing.T) {
	store := metrics.NewMetricsStore()
	store.TableOutcome("created")
	mux := NewMux(&config.Config{}, store, nil, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `surveysync_tables_total{outcome="created"} 1`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
