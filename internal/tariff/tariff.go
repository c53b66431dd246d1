// Package tariff fetches upcoming half-hour unit rates from the tariff
// REST API (spec §4.2/§6). Grounded on the teacher's entsoe.APIClient
// (http.Client + context-timeout + JSON/XML decode), rebuilt against the
// simpler JSON shape this spec's tariff API returns.
package tariff

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kilowattlabs/chargesched/internal/model"
)

const requestTimeout = 10 * time.Second

// Client fetches and interprets tariff rates.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client pointed at baseURL (spec §6 tariff API).
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type ratesResponse struct {
	Results []rateEntry `json:"results"`
}

type rateEntry struct {
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
	ValueIncVAT  float64   `json:"value_inc_vat"`
}

// FetchRates returns upcoming half-hour windows. On transport error it
// returns an empty list and logs, per spec §4.2/§7 — tariff failures never
// propagate as hard errors into the executor loop.
func (c *Client) FetchRates(ctx context.Context, periodFrom, periodTo time.Time) []model.PriceWindow {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("period_from", periodFrom.UTC().Format(time.RFC3339))
	q.Set("period_to", periodTo.UTC().Format(time.RFC3339))

	reqURL := c.baseURL
	if u, err := url.Parse(c.baseURL); err == nil {
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		slog.WarnContext(ctx, "tariff: build request failed", "error", err)
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "tariff: fetch_rates transport error", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "tariff: fetch_rates non-200", "status", resp.StatusCode)
		return nil
	}

	var parsed ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.WarnContext(ctx, "tariff: fetch_rates decode error", "error", err)
		return nil
	}

	windows := make([]model.PriceWindow, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		windows = append(windows, model.PriceWindow{
			ValidFrom: r.ValidFrom.UTC(),
			ValidTo:   r.ValidTo.UTC(),
			RatePPKWh: r.ValueIncVAT,
		})
	}
	return windows
}

// FetchRateFor queries a time-bounded range (±1 hour around the window)
// and returns the rate covering windowStart, or nil if none (spec §4.2).
func (c *Client) FetchRateFor(ctx context.Context, windowStart, windowEnd time.Time) *float64 {
	windows := c.FetchRates(ctx, windowStart.Add(-time.Hour), windowEnd.Add(time.Hour))
	for _, w := range windows {
		if w.Covers(windowStart) {
			v := w.RatePPKWh
			return &v
		}
	}
	return nil
}
