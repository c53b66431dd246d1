package tariff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRatesParsesResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"valid_from":"2026-01-01T10:00:00Z","valid_to":"2026-01-01T10:30:00Z","value_inc_vat":15.5},
			{"valid_from":"2026-01-01T10:30:00Z","valid_to":"2026-01-01T11:00:00Z","value_inc_vat":22.1}
		]}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	windows := c.FetchRates(context.Background(), time.Now(), time.Now().Add(time.Hour))

	require.Len(t, windows, 2)
	assert.Equal(t, 15.5, windows[0].RatePPKWh)
	assert.Equal(t, 22.1, windows[1].RatePPKWh)
}

func TestFetchRatesReturnsNilOnNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(ts.URL)
	windows := c.FetchRates(context.Background(), time.Now(), time.Now().Add(time.Hour))
	assert.Nil(t, windows)
}

func TestFetchRatesReturnsNilOnTransportError(t *testing.T) {
	c := New("http://127.0.0.1:0")
	windows := c.FetchRates(context.Background(), time.Now(), time.Now().Add(time.Hour))
	assert.Nil(t, windows)
}

func TestFetchRateForFindsCoveringWindow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"valid_from":"2026-01-01T10:00:00Z","valid_to":"2026-01-01T10:30:00Z","value_inc_vat":15.5}
		]}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	start := time.Date(2026, 1, 1, 10, 10, 0, 0, time.UTC)
	rate := c.FetchRateFor(context.Background(), start, start.Add(10*time.Minute))
	require.NotNil(t, rate)
	assert.Equal(t, 15.5, *rate)
}

func TestFetchRateForReturnsNilWhenNoWindowCovers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	rate := c.FetchRateFor(context.Background(), time.Now(), time.Now().Add(time.Minute))
	assert.Nil(t, rate)
}
