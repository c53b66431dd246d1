package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tokenAndSessionsServer(t *testing.T, eventsJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if req.Query == tokenQuery {
			assert.Empty(t, r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":{"obtainKrakenToken":{"token":"tok-123"}}}`))
			return
		}
		assert.Equal(t, "JWT tok-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"savingSessions":{"events":` + eventsJSON + `}}}`))
	}))
}

func TestGetActiveSessionsFiltersOngoing(t *testing.T) {
	ts := tokenAndSessionsServer(t, `[
		{"startAt":"2026-01-01T16:00:00Z","endAt":"2026-01-01T17:00:00Z","status":"ONGOING"},
		{"startAt":"2026-01-02T16:00:00Z","endAt":"2026-01-02T17:00:00Z","status":"SCHEDULED"}
	]`)
	defer ts.Close()

	c := New(ts.URL, "apikey", "A-1")
	sessions := c.GetActiveSessions(context.Background())
	require.Len(t, sessions, 1)
	assert.Equal(t, 16, sessions[0].StartUTC.Hour())
}

func TestGetActiveSessionsCachesToken(t *testing.T) {
	tokenRequests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Query == tokenQuery {
			tokenRequests++
			w.Write([]byte(`{"data":{"obtainKrakenToken":{"token":"tok-123"}}}`))
			return
		}
		w.Write([]byte(`{"data":{"savingSessions":{"events":[]}}}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "apikey", "A-1")
	c.GetActiveSessions(context.Background())
	c.GetActiveSessions(context.Background())
	assert.Equal(t, 1, tokenRequests, "a cached token should not be re-obtained")
}

func TestGetActiveSessionsReturnsNilOnTokenFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(ts.URL, "apikey", "A-1")
	assert.Nil(t, c.GetActiveSessions(context.Background()))
}

func TestOverlapsDelegatesToModel(t *testing.T) {
	assert.False(t, Overlaps(
		mustTime("2026-01-01T10:00:00Z"),
		mustTime("2026-01-01T11:00:00Z"),
		nil,
	))
}
