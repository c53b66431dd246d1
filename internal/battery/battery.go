// Package battery drives the remote Battery Control REST API (spec
// §4.3/§6): reads live status, writes reserve-percent and grid-charging
// flag. Grounded on the bearer-token REST client shape of
// jameshartig-autoenergy's pkg/ess.Franklin, rebuilt against this spec's
// simpler single-endpoint GET/POST contract instead of Franklin's
// multi-step login flow.
package battery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilowattlabs/chargesched/internal/model"
)

const requestTimeout = 10 * time.Second

// Client talks to `{base}/{site}/config`.
type Client struct {
	baseURL    string
	siteID     string
	apiKey     string
	httpClient *http.Client
	simulate   bool
}

// New returns a live Client. If simulate is true, Status and SetCharge
// return canned values without any network call (spec §4.3: "a simulation
// flag makes both operations return canned values... used by tests").
func New(baseURL, siteID, apiKey string, simulate bool) *Client {
	return &Client{
		baseURL:    baseURL,
		siteID:     siteID,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		simulate:   simulate,
	}
}

func (c *Client) url() string {
	return fmt.Sprintf("%s/%s/config", c.baseURL, c.siteID)
}

type liveStatus struct {
	PercentageCharged float64 `json:"percentage_charged"`
	GridStatus        string  `json:"grid_status"`
	IslandStatus      string  `json:"island_status"`
	BatteryPower      float64 `json:"battery_power"`
	SolarPower        float64 `json:"solar_power"`
	LoadPower         float64 `json:"load_power"`
	Timestamp         time.Time `json:"timestamp"`
}

type configResponse struct {
	LiveStatus        liveStatus `json:"live_status"`
	PercentageCharged float64    `json:"percentage_charged"`
	GridCharging      bool       `json:"grid_charging"`
}

// Status returns live battery status, or nil on any transport/decode
// error (spec §4.3). Callers treat nil as "skip this tick" (spec §4.7
// step 2), never as a terminal failure.
func (c *Client) Status(ctx context.Context) *model.BatteryStatus {
	if c.simulate {
		return &model.BatteryStatus{
			PercentageCharged: 50,
			GridCharging:      false,
			GridStatus:        "grid",
			IslandStatus:      "connected",
			Timestamp:         time.Now().UTC(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		slog.WarnContext(ctx, "battery: build status request failed", "error", err)
		return nil
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "battery: status transport error", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "battery: status non-200", "status", resp.StatusCode)
		return nil
	}

	var parsed configResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.WarnContext(ctx, "battery: status decode error", "error", err)
		return nil
	}

	return &model.BatteryStatus{
		PercentageCharged: parsed.PercentageCharged,
		GridCharging:      parsed.GridCharging,
		GridStatus:        parsed.LiveStatus.GridStatus,
		IslandStatus:      parsed.LiveStatus.IslandStatus,
		BatteryPowerKW:    parsed.LiveStatus.BatteryPower,
		SolarPowerKW:      parsed.LiveStatus.SolarPower,
		LoadPowerKW:       parsed.LiveStatus.LoadPower,
		Timestamp:         parsed.LiveStatus.Timestamp,
	}
}

type setChargeRequest struct {
	BackupReservePercent int    `json:"backup_reserve_percent"`
	GridCharging         bool   `json:"grid_charging"`
	OperationalMode      string `json:"operational_mode,omitempty"`
}

// SetCharge posts the reserve percent and grid-charging flag (optionally
// with an operational mode). Returns success as a bool, never propagating
// the underlying transport error as a hard failure (spec §4.3/§7).
func (c *Client) SetCharge(ctx context.Context, reservePercent int, gridCharging bool, mode string) bool {
	if c.simulate {
		slog.InfoContext(ctx, "battery: simulated set_charge", "reserve", reservePercent, "grid_charging", gridCharging, "mode", mode)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(setChargeRequest{
		BackupReservePercent: reservePercent,
		GridCharging:         gridCharging,
		OperationalMode:      mode,
	})
	if err != nil {
		slog.WarnContext(ctx, "battery: marshal set_charge body failed", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		slog.WarnContext(ctx, "battery: build set_charge request failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "battery: set_charge transport error", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.WarnContext(ctx, "battery: set_charge non-2xx", "status", resp.StatusCode)
		return false
	}
	return true
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
