package battery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusSimulateReturnsCannedValue(t *testing.T) {
	c := New("http://unused", "site", "key", true)
	status := c.Status(context.Background())
	require.NotNil(t, status)
	assert.Equal(t, 50.0, status.PercentageCharged)
	assert.False(t, status.GridCharging)
}

func TestStatusParsesLiveResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/site1/config", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"percentage_charged": 73.5,
			"grid_charging": true,
			"live_status": {
				"percentage_charged": 73.5,
				"grid_status": "grid",
				"island_status": "on_grid",
				"battery_power": 2.1,
				"solar_power": 3.4,
				"load_power": 1.0
			}
		}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "site1", "secret", false)
	status := c.Status(context.Background())
	require.NotNil(t, status)
	assert.Equal(t, 73.5, status.PercentageCharged)
	assert.True(t, status.GridCharging)
	assert.Equal(t, "on_grid", status.IslandStatus)
	assert.Equal(t, 3.4, status.SolarPowerKW)
}

func TestStatusReturnsNilOnNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := New(ts.URL, "site1", "secret", false)
	assert.Nil(t, c.Status(context.Background()))
}

func TestSetChargeSimulateAlwaysSucceeds(t *testing.T) {
	c := New("http://unused", "site", "key", true)
	assert.True(t, c.SetCharge(context.Background(), 30, true, ""))
}

func TestSetChargePostsExpectedBody(t *testing.T) {
	var received setChargeRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, "site1", "secret", false)
	ok := c.SetCharge(context.Background(), 40, true, "self_consumption")
	assert.True(t, ok)
	assert.Equal(t, 40, received.BackupReservePercent)
	assert.True(t, received.GridCharging)
	assert.Equal(t, "self_consumption", received.OperationalMode)
}

func TestSetChargeReturnsFalseOnFailureStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(ts.URL, "site1", "secret", false)
	assert.False(t, c.SetCharge(context.Background(), 40, true, ""))
}
