// Package config holds the typed configuration for chargesched, following
// the teacher's JSON-config-with-duration-marshalling idiom while adding
// the environment-variable surface the spec's operator deployment expects.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is the full set of tunables for the scheduler/executor subsystem.
type Config struct {
	// Storage & timezone
	DBPath   string `json:"db_path"`
	Timezone string `json:"timezone"`

	// External collaborators
	AgileURL          string `json:"agile_url"`
	BatteryBaseURL    string `json:"battery_base_url"`
	BatterySiteID     string `json:"site_id"`
	BatteryAPIKey     string `json:"battery_api_key"`
	SolarForecastURL  string `json:"solar_forecast_url"`
	SavingSessionURL  string `json:"saving_session_url"`
	NetZeroAPIKey     string `json:"netzero_api_key"`
	SolarLatitude     float64 `json:"solar_latitude"`
	SolarLongitude    float64 `json:"solar_longitude"`
	SolarCacheTTL     time.Duration `json:"solar_cache_ttl"`
	SolarCachePath    string `json:"solar_cache_path"`

	// PV panel model (see Solar Forecast Client §4.4)
	PanelCount        int     `json:"panel_count"`
	PanelNominalWatts float64 `json:"panel_nominal_watts"`
	PanelIrradianceRef float64 `json:"panel_irradiance_ref_wm2"`
	PanelDerating     float64 `json:"panel_derating"`

	// Battery economics
	BatteryReserveStart int     `json:"battery_reserve_start"`
	BatteryReserveEnd   int     `json:"battery_reserve_end"`
	SOCSkipThreshold    int     `json:"soc_skip_threshold"`
	PeakStartHour       int     `json:"peak_start_hour"`
	PeakEndHour         int     `json:"peak_end_hour"`
	MaxAgilePricePPK    float64 `json:"max_agile_price_ppk"`
	TargetSOC           int     `json:"target_soc"`
	BatteryKWh          float64 `json:"battery_kwh"`
	ChargeRateKW        float64 `json:"charge_rate_kw"`
	SlotHours           float64 `json:"slot_hours"`

	// Scheduler/executor timing
	ExecutorSleepAheadSec int           `json:"executor_sleep_ahead_sec"`
	ExecutorIdleSleepSec  int           `json:"executor_idle_sleep_sec"`
	ExecutorPollInterval  int           `json:"executor_poll_interval"`
	GraceRetryInterval    time.Duration `json:"grace_retry_interval"`
	SchedulerRunsPerDay   int           `json:"scheduler_runs_per_day"`
	PlannerFallbackSlots  int           `json:"planner_fallback_slots"`

	// Control surface
	ControlListenAddr string `json:"control_listen_addr"`

	// Logging
	LogLevel string `json:"log_level"`

	// DryRun simulates battery control network calls (used by tests and
	// -dry-run); tariff, solar and saving-session calls are still made.
	DryRun bool `json:"dry_run"`
}

// DefaultConfig returns the configuration used when no overrides are set.
//
// SOCSkipThreshold defaults to 80, not 90: the original source carried both
// values across two config variants (see DESIGN.md); 80 is more
// conservative, leaving headroom for a free solar top-up before the
// executor would otherwise consider the battery "full enough".
func DefaultConfig() *Config {
	return &Config{
		DBPath:             "chargesched.db",
		Timezone:           "Europe/London",
		AgileURL:           "https://api.octopus.energy/v1/products/AGILE-24-04-03/electricity-tariffs/E-1R-AGILE-24-04-03-A/standard-unit-rates/",
		BatteryBaseURL:     "https://api.tesla.com/energy",
		SolarForecastURL:   "https://api.open-meteo.com/v1/forecast",
		SolarCacheTTL:      2 * time.Hour,
		SolarCachePath:     "solar_cache.json",
		PanelCount:         20,
		PanelNominalWatts:  400,
		PanelIrradianceRef: 1000,
		PanelDerating:      0.85,
		BatteryReserveStart: 20,
		BatteryReserveEnd:   20,
		SOCSkipThreshold:    80,
		PeakStartHour:       16,
		PeakEndHour:         19,
		MaxAgilePricePPK:    30.0,
		TargetSOC:           90,
		BatteryKWh:          13.5,
		ChargeRateKW:        5.0,
		SlotHours:           0.5,
		ExecutorSleepAheadSec: 600,
		ExecutorIdleSleepSec:  300,
		ExecutorPollInterval:  60,
		GraceRetryInterval:    5 * time.Second,
		SchedulerRunsPerDay:   4,
		PlannerFallbackSlots:  4,
		ControlListenAddr:     ":8090",
		LogLevel:              "info",
	}
}

// LoadConfig loads configuration from a JSON file, falling back to defaults
// for anything not present in the file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	config := DefaultConfig()
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate checks that the configuration is self-consistent.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Timezone == "" {
		return fmt.Errorf("timezone cannot be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.BatteryReserveStart < 0 || c.BatteryReserveStart > 100 {
		return fmt.Errorf("battery_reserve_start must be 0-100, got %d", c.BatteryReserveStart)
	}
	if c.BatteryReserveEnd < 0 || c.BatteryReserveEnd > 100 {
		return fmt.Errorf("battery_reserve_end must be 0-100, got %d", c.BatteryReserveEnd)
	}
	if c.SOCSkipThreshold < 0 || c.SOCSkipThreshold > 100 {
		return fmt.Errorf("soc_skip_threshold must be 0-100, got %d", c.SOCSkipThreshold)
	}
	if c.PeakStartHour < 0 || c.PeakStartHour > 23 || c.PeakEndHour < 0 || c.PeakEndHour > 24 {
		return fmt.Errorf("peak_start_hour/peak_end_hour must be valid hours")
	}
	if c.ChargeRateKW <= 0 {
		return fmt.Errorf("charge_rate_kw must be positive, got %f", c.ChargeRateKW)
	}
	if c.SlotHours <= 0 {
		return fmt.Errorf("slot_hours must be positive, got %f", c.SlotHours)
	}
	if c.ExecutorPollInterval <= 0 || c.ExecutorPollInterval > 60 {
		return fmt.Errorf("executor_poll_interval must be in (0,60] seconds, got %d", c.ExecutorPollInterval)
	}
	if c.SchedulerRunsPerDay <= 0 {
		return fmt.Errorf("scheduler_runs_per_day must be positive, got %d", c.SchedulerRunsPerDay)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling to render durations as strings.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		SolarCacheTTL      string `json:"solar_cache_ttl"`
		GraceRetryInterval string `json:"grace_retry_interval"`
	}{
		Alias:              (*Alias)(c),
		SolarCacheTTL:      c.SolarCacheTTL.String(),
		GraceRetryInterval: c.GraceRetryInterval.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling to parse duration strings.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		SolarCacheTTL      string `json:"solar_cache_ttl"`
		GraceRetryInterval string `json:"grace_retry_interval"`
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if aux.SolarCacheTTL != "" {
		if c.SolarCacheTTL, err = time.ParseDuration(aux.SolarCacheTTL); err != nil {
			return fmt.Errorf("invalid solar_cache_ttl: %w", err)
		}
	}
	if aux.GraceRetryInterval != "" {
		if c.GraceRetryInterval, err = time.ParseDuration(aux.GraceRetryInterval); err != nil {
			return fmt.Errorf("invalid grace_retry_interval: %w", err)
		}
	}
	return nil
}

// String returns a string representation of the config, for startup logging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
