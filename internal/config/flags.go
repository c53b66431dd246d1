package config

import (
	"github.com/levenlabs/go-lflag"
)

// Configured registers every tunable named in the external-interfaces spec
// as an lflag (flag + matching environment variable), seeded from
// DefaultConfig, and returns a Config that is filled in once lflag.Configure
// (called from main) parses the process arguments/environment. Mirrors the
// wiring order of the pack's utility.Configured()/ess.Configured(): build
// the flag pointers now, populate the struct inside lflag.Do.
func Configured() *Config {
	defaults := DefaultConfig()
	cfg := &Config{}

	dbPath := lflag.String("db-path", defaults.DBPath, "path to the SQLite schedule store")
	timezone := lflag.String("timezone", defaults.Timezone, "IANA timezone for civil-time scheduling")
	agileURL := lflag.String("agile-url", defaults.AgileURL, "tariff API base URL")
	batteryBaseURL := lflag.String("battery-base-url", defaults.BatteryBaseURL, "battery control API base URL")
	siteID := lflag.String("site-id", defaults.BatterySiteID, "battery control API site identifier")
	batteryAPIKey := lflag.String("battery-api-key", defaults.BatteryAPIKey, "battery control API bearer token")
	solarForecastURL := lflag.String("solar-forecast-url", defaults.SolarForecastURL, "solar forecast API base URL")
	savingSessionURL := lflag.String("saving-session-url", defaults.SavingSessionURL, "saving-session GraphQL endpoint")
	netZeroAPIKey := lflag.String("netzero-api-key", defaults.NetZeroAPIKey, "saving-session API key")
	solarLat := lflag.Float64("solar-latitude", defaults.SolarLatitude, "site latitude, for sunrise/sunset bounding")
	solarLon := lflag.Float64("solar-longitude", defaults.SolarLongitude, "site longitude, for sunrise/sunset bounding")
	solarCacheTTL := lflag.Duration("solar-cache-ttl", defaults.SolarCacheTTL, "how long a cached forecast is considered fresh")
	solarCachePath := lflag.String("solar-cache-path", defaults.SolarCachePath, "path to the on-disk solar forecast cache")

	reserveStart := lflag.Int("battery-reserve-start", defaults.BatteryReserveStart, "reserve percent commanded at window start when SOC is below it")
	reserveEnd := lflag.Int("battery-reserve-end", defaults.BatteryReserveEnd, "reserve percent commanded when grid charging is stopped")
	socSkip := lflag.Int("soc-skip-threshold", defaults.SOCSkipThreshold, "SOC percent at or above which a charge window is skipped")
	peakStart := lflag.Int("peak-start-hour", defaults.PeakStartHour, "local hour peak tariff pricing begins")
	peakEnd := lflag.Int("peak-end-hour", defaults.PeakEndHour, "local hour peak tariff pricing ends")
	maxPrice := lflag.Float64("max-agile-price-ppk", defaults.MaxAgilePricePPK, "ceiling price in pence/kWh above which the executor cancels a scheduled slot")
	targetSOC := lflag.Int("target-soc", defaults.TargetSOC, "SOC percent the planner aims to reach")
	batteryKWh := lflag.Float64("battery-kwh", defaults.BatteryKWh, "usable battery capacity in kWh")
	chargeRate := lflag.Float64("charge-rate-kw", defaults.ChargeRateKW, "battery charge rate in kW")
	slotHours := lflag.Float64("slot-hours", defaults.SlotHours, "duration of one schedulable tariff slot, in hours")

	sleepAhead := lflag.Int("executor-sleep-ahead-sec", defaults.ExecutorSleepAheadSec, "seconds before a window start the executor wakes early")
	idleSleep := lflag.Int("executor-idle-sleep-sec", defaults.ExecutorIdleSleepSec, "max seconds the executor sleeps with no pending schedule")
	pollInterval := lflag.Int("executor-poll-interval", defaults.ExecutorPollInterval, "minimum seconds the executor sleeps before re-checking an upcoming schedule")
	graceRetry := lflag.Duration("grace-retry-interval", defaults.GraceRetryInterval, "stored in the config but not read by any component; a failed battery control call is retried on the executor's next tick")
	runsPerDay := lflag.Int("scheduler-runs-per-day", defaults.SchedulerRunsPerDay, "number of times per day the planner re-plans")
	fallbackSlots := lflag.Int("planner-fallback-slots", defaults.PlannerFallbackSlots, "slot count used when the battery's SOC cannot be read")

	listenAddr := lflag.String("control-listen-addr", defaults.ControlListenAddr, "address the control surface HTTP server listens on")
	logLevel := lflag.String("log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	dryRun := lflag.Bool("dry-run", defaults.DryRun, "simulate battery control network calls instead of making them")

	panelCount := lflag.Int("panel-count", defaults.PanelCount, "number of solar panels in the PV model")
	panelWatts := lflag.Float64("panel-nominal-watts", defaults.PanelNominalWatts, "nominal wattage per panel")
	panelIrradiance := lflag.Float64("panel-irradiance-ref-wm2", defaults.PanelIrradianceRef, "reference irradiance (W/m^2) for 100% panel output")
	panelDerating := lflag.Float64("panel-derating", defaults.PanelDerating, "derating factor applied to nameplate panel output")

	lflag.Do(func() {
		cfg.DBPath = *dbPath
		cfg.Timezone = *timezone
		cfg.AgileURL = *agileURL
		cfg.BatteryBaseURL = *batteryBaseURL
		cfg.BatterySiteID = *siteID
		cfg.BatteryAPIKey = *batteryAPIKey
		cfg.SolarForecastURL = *solarForecastURL
		cfg.SavingSessionURL = *savingSessionURL
		cfg.NetZeroAPIKey = *netZeroAPIKey
		cfg.SolarLatitude = *solarLat
		cfg.SolarLongitude = *solarLon
		cfg.SolarCacheTTL = *solarCacheTTL
		cfg.SolarCachePath = *solarCachePath

		cfg.BatteryReserveStart = *reserveStart
		cfg.BatteryReserveEnd = *reserveEnd
		cfg.SOCSkipThreshold = *socSkip
		cfg.PeakStartHour = *peakStart
		cfg.PeakEndHour = *peakEnd
		cfg.MaxAgilePricePPK = *maxPrice
		cfg.TargetSOC = *targetSOC
		cfg.BatteryKWh = *batteryKWh
		cfg.ChargeRateKW = *chargeRate
		cfg.SlotHours = *slotHours

		cfg.ExecutorSleepAheadSec = *sleepAhead
		cfg.ExecutorIdleSleepSec = *idleSleep
		cfg.ExecutorPollInterval = *pollInterval
		cfg.GraceRetryInterval = *graceRetry
		cfg.SchedulerRunsPerDay = *runsPerDay
		cfg.PlannerFallbackSlots = *fallbackSlots

		cfg.ControlListenAddr = *listenAddr
		cfg.LogLevel = *logLevel
		cfg.DryRun = *dryRun

		cfg.PanelCount = *panelCount
		cfg.PanelNominalWatts = *panelWatts
		cfg.PanelIrradianceRef = *panelIrradiance
		cfg.PanelDerating = *panelDerating

		if err := cfg.Validate(); err != nil {
			panic("invalid configuration: " + err.Error())
		}
	})

	return cfg
}
