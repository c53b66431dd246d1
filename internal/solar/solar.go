// Package solar maintains a disk-cached 24-hour solar irradiance forecast
// and answers "will the panels produce enough energy over this window"
// (spec §4.4). Cache shape and the mutex-guarded refresh-on-stale idiom
// are grounded on the teacher's WeatherForecastCache (scheduler/pv.go,
// scheduler/data.go); sunrise/sunset bounding reuses the teacher's
// suncalc.GetTimes call (scheduler/server.go) to clip the forecast window
// to daylight hours, where panel output is definitionally zero outside it.
package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sixdouglas/suncalc"
)

const requestTimeout = 10 * time.Second

// PanelModel is the fixed PV array configuration used to convert modelled
// irradiance into panel power (spec §4.4 step 3).
type PanelModel struct {
	Count         int
	NominalWatts  float64
	IrradianceRef float64
	Derating      float64
}

// sample is one 15-minute tilted-irradiance reading.
type sample struct {
	Timestamp         time.Time `json:"timestamp"`
	GlobalIrradiance  float64   `json:"global_irradiance"`
}

type cacheFile struct {
	CachedTimestampUTC time.Time `json:"cached_timestamp_utc"`
	Data               []sample  `json:"data"`
}

// Client is the Solar Forecast Client of spec §4.4.
type Client struct {
	forecastURL string
	cachePath   string
	ttl         time.Duration
	lat, lon    float64
	panel       PanelModel
	httpClient  *http.Client

	mu       sync.RWMutex
	cached   *cacheFile
}

// New returns a Client. The on-disk cache at cachePath is not loaded until
// the first call that needs it.
func New(forecastURL, cachePath string, ttl time.Duration, lat, lon float64, panel PanelModel) *Client {
	return &Client{
		forecastURL: forecastURL,
		cachePath:   cachePath,
		ttl:         ttl,
		lat:         lat,
		lon:         lon,
		panel:       panel,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
}

// RefreshIfStale loads the on-disk cache if not already in memory, and
// refreshes it from the network if older than the TTL (spec §4.4 step 1).
// Network/parse failures are logged and leave the existing cache (possibly
// nil) in place.
func (c *Client) RefreshIfStale(ctx context.Context) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()

	if cached == nil {
		if onDisk, err := c.loadFromDisk(); err == nil {
			cached = onDisk
			c.mu.Lock()
			c.cached = onDisk
			c.mu.Unlock()
		}
	}

	if cached != nil && time.Since(cached.CachedTimestampUTC) < c.ttl {
		return
	}

	fresh, err := c.fetchForecast(ctx)
	if err != nil {
		slog.WarnContext(ctx, "solar: forecast refresh failed, keeping stale cache", "error", err)
		return
	}

	c.mu.Lock()
	c.cached = fresh
	c.mu.Unlock()

	if err := c.saveToDisk(fresh); err != nil {
		slog.WarnContext(ctx, "solar: failed to persist forecast cache", "error", err)
	}
}

func (c *Client) loadFromDisk() (*cacheFile, error) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil, fmt.Errorf("solar: read cache: %w", err)
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("solar: decode cache: %w", err)
	}
	return &cf, nil
}

// saveToDisk rewrites the cache file whole via a temp-file rename, per
// spec §5 ("on-disk JSON caches... rewritten whole, atomic replace
// recommended").
func (c *Client) saveToDisk(cf *cacheFile) error {
	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("solar: encode cache: %w", err)
	}
	tmp := c.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("solar: write temp cache: %w", err)
	}
	if err := os.Rename(tmp, c.cachePath); err != nil {
		return fmt.Errorf("solar: replace cache: %w", err)
	}
	return nil
}

func (c *Client) fetchForecast(ctx context.Context) (*cacheFile, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.lat, 'f', 6, 64))
	q.Set("longitude", strconv.FormatFloat(c.lon, 'f', 6, 64))
	q.Set("forecast_days", "1")

	reqURL := c.forecastURL
	if u, err := url.Parse(c.forecastURL); err == nil {
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solar: forecast API returned status %d", resp.StatusCode)
	}

	var cf cacheFile
	if err := json.NewDecoder(resp.Body).Decode(&cf); err != nil {
		return nil, err
	}
	cf.CachedTimestampUTC = time.Now().UTC()
	return &cf, nil
}

// HasEnoughSolar implements spec §4.4's algorithm. Any error collapses to
// false so the Executor always falls back to grid charging, never to a
// false-positive solar skip.
func (c *Client) HasEnoughSolar(ctx context.Context, start, end time.Time, targetKWh float64) bool {
	c.RefreshIfStale(ctx)

	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()
	if cached == nil {
		return false
	}

	sunrise, sunset, ok := c.daylightWindow(start)
	if ok {
		if start.Before(sunrise) {
			start = sunrise
		}
		if end.After(sunset) {
			end = sunset
		}
		if !start.Before(end) {
			return false
		}
	}

	var samples []sample
	for _, s := range cached.Data {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			samples = append(samples, s)
		}
	}
	if len(samples) == 0 {
		return false
	}

	var totalKW float64
	for _, s := range samples {
		totalKW += c.panelPowerKW(s.GlobalIrradiance)
	}
	meanKW := totalKW / float64(len(samples))

	hours := end.Sub(start).Hours()
	forecastKWh := meanKW * hours

	return forecastKWh >= targetKWh
}

// panelPowerKW converts modelled irradiance to panel output, capped at
// nameplate capacity (spec §4.4 step 3).
func (c *Client) panelPowerKW(globalIrradiance float64) float64 {
	stcWatts := float64(c.panel.Count) * c.panel.NominalWatts
	raw := stcWatts * globalIrradiance / c.panel.IrradianceRef * c.panel.Derating
	if raw > stcWatts {
		raw = stcWatts
	}
	if raw < 0 {
		raw = 0
	}
	return raw / 1000.0
}

// daylightWindow returns the sunrise/sunset instants (UTC) for the day of
// t at the configured site coordinates.
func (c *Client) daylightWindow(t time.Time) (sunrise, sunset time.Time, ok bool) {
	if c.lat == 0 && c.lon == 0 {
		return time.Time{}, time.Time{}, false
	}
	times := suncalc.GetTimes(t, c.lat, c.lon)
	sr, srOK := times["sunrise"]
	ss, ssOK := times["sunset"]
	if !srOK || !ssOK {
		return time.Time{}, time.Time{}, false
	}
	return sr.Value.UTC(), ss.Value.UTC(), true
}
