package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gata/internal/logging"
	"gata/internal/observability"
	"gata/internal/rewards"
	"gata/internal/taskloop"
)

type stubLoop struct {
	state taskloop.State
	last  *taskloop.CycleResult
}

func (s stubLoop) State() taskloop.State { return s.state }
func (s stubLoop) Cycles() int64 {
	if s.last == nil {
		return 0
	}
	return 1
}
func (s stubLoop) LastCycle() (taskloop.CycleResult, bool) {
	if s.last == nil {
		return taskloop.CycleResult{}, false
	}
	return *s.last, true
}

type stubStats rewards.Snapshot

func (s stubStats) Current() rewards.Snapshot { return rewards.Snapshot(s) }

type stubHistory struct{ err error }

func (h stubHistory) Recent(context.Context, int) ([]taskloop.CycleResult, error) {
	return []taskloop.CycleResult{{LogID: "x", Outcome: taskloop.OutcomeValid}}, h.err
}

func (h stubHistory) CountByOutcome(context.Context) (map[taskloop.Outcome]int64, error) {
	return map[taskloop.Outcome]int64{taskloop.OutcomeValid: 1}, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func newServer(opts ...Option) *Server {
	snap := stubStats{TotalPoints: 42, DailyPoints: 7, CompletedCount: 3}
	loop := stubLoop{state: taskloop.StateDelaying, last: &taskloop.CycleResult{LogID: "abc", Outcome: taskloop.OutcomeInvalid}}
	return New("127.0.0.1:0", loop, snap, append([]Option{WithLogger(logging.Nop())}, opts...)...)
}

func TestHealthz(t *testing.T) {
	rec := get(t, newServer().Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ok", body["data"].(map[string]any)["status"])
}

func TestStatsReturnsLatestSnapshot(t *testing.T) {
	rec := get(t, newServer().Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.EqualValues(t, 42, data["totalPoints"])
	assert.EqualValues(t, 7, data["dailyPoints"])
	assert.EqualValues(t, 3, data["completedCount"])
}

func TestStatusIncludesLastCycle(t *testing.T) {
	rec := get(t, newServer().Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "delaying", data["state"])
	assert.EqualValues(t, 1, data["cycles"])
	assert.Equal(t, "invalid", data["last_cycle"].(map[string]any)["outcome"])
}

func TestHistory(t *testing.T) {
	rec := get(t, newServer().Handler(), "/api/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv := newServer(WithHistory(stubHistory{}))
	rec = get(t, srv.Handler(), "/api/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Len(t, data["cycles"], 1)
	assert.EqualValues(t, 1, data["counts"].(map[string]any)["valid"])

	rec = get(t, srv.Handler(), "/api/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, newServer(WithHistory(stubHistory{err: errors.New("locked")})).Handler(), "/api/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg).ObserveCycle("valid")

	rec := get(t, newServer(WithGatherer(reg)).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gata_taskloop_cycles_total{outcome="valid"} 1`))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	srv := newServer()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestCORSOrigins(t *testing.T) {
	h := newServer(WithCORSOrigins("http://dashboard.local")).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, newServer().Handler(), "/api/stats")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
