package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilowattlabs/chargesched/internal/store"
)

type fakeWake struct{ sets int }

func (f *fakeWake) Set() { f.sets++ }

type fakeStopper struct{ stopped bool }

func (f *fakeStopper) StopIfActive(ctx context.Context, id int64) (bool, error) {
	f.stopped = true
	return true, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeWake) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "control.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w := &fakeWake{}
	s := NewServer(":0", st, NewStatus(), &fakeStopper{}, w, time.UTC)
	return s, st, w
}

func TestPutScheduleHandlerInsertsAndWakes(t *testing.T) {
	s, st, w := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"start_time": "2026-01-01T10:00:00Z",
		"end_time":   "2026-01-01T10:30:00Z",
		"target_soc": 90,
	})
	req := httptest.NewRequest(http.MethodPost, "/putSchedule", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.putScheduleHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, w.sets)

	pending, err := st.FetchPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].ManualOverride)
}

func TestPutScheduleHandlerRejectsBadWindow(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"start_time": "2026-01-01T10:30:00Z",
		"end_time":   "2026-01-01T10:00:00Z",
	})
	req := httptest.NewRequest(http.MethodPost, "/putSchedule", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.putScheduleHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelScheduleHandlerStopsAndRemoves(t *testing.T) {
	s, st, w := newTestServer(t)

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	inserted, err := st.AddManualOverride(context.Background(), start, start.Add(time.Hour), 90)
	require.NoError(t, err)
	require.True(t, inserted)

	pending, err := st.FetchPending(context.Background())
	require.NoError(t, err)
	id := pending[0].ID

	req := httptest.NewRequest(http.MethodDelete, "/delSchedule/"+strconv.FormatInt(id, 10), nil)
	rec := httptest.NewRecorder()
	s.delScheduleHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, w.sets)
	assert.True(t, s.executor.(*fakeStopper).stopped)

	_, err = st.GetByID(context.Background(), id)
	assert.Error(t, err)
}

func TestGetPendingHandlerRendersLocalTime(t *testing.T) {
	s, st, _ := newTestServer(t)
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := st.AddManualOverride(context.Background(), start, start.Add(time.Hour), 90)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/getPendingSchedules", nil)
	rec := httptest.NewRecorder()
	s.getPendingHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var rows []localSchedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-01-01T10:00:00Z", rows[0].StartTime)
}

func TestStatusHandlerReportsUptimeAndSnapshot(t *testing.T) {
	s, _, _ := newTestServer(t)
	soc := 77.0
	s.status.SetLive(nil, &soc, nil, "on_grid")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.statusHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 77.0, body["soc"])
	assert.Equal(t, "on_grid", body["island"])
	assert.Contains(t, body, "uptime")
}

func TestUpdateStatusHandlerMergesFields(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"island": "off_grid"})
	req := httptest.NewRequest(http.MethodPost, "/update_status", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.updateStatusHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "off_grid", s.status.Snapshot().Island)
}

func TestHealthHandlerReportsOK(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Nil(t, body["last_scheduler_run"], "no scheduler run recorded yet")
}

func TestHealthHandlerSurfacesLastSchedulerRun(t *testing.T) {
	s, _, _ := newTestServer(t)
	runAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.status.MarkSchedulerRun(runAt)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	lastRun, err := time.Parse(time.RFC3339, body["last_scheduler_run"].(string))
	require.NoError(t, err)
	assert.True(t, lastRun.Equal(runAt))
}

func TestHistoryHandlerReturnsRecentDecisions(t *testing.T) {
	s, st, _ := newTestServer(t)
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := st.AddSchedule(context.Background(), start, start.Add(time.Hour), "autonomous", "scheduler", nil, nil)
	require.NoError(t, err)
	pending, err := st.FetchPending(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.MarkTerminal(context.Background(), pending[0].ID, "completed", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	s.historyHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
