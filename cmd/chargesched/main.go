// Command chargesched runs the home-battery charging controller: the
// planner/executor control loop plus its operator HTTP control surface.
// Wiring order follows jameshartig-autoenergy's cmd/autoenergy/main.go:
// construct dependents first, call lflag.Configure once, translate
// llog's level into log/slog, install signal-driven cancellation, then
// run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/kilowattlabs/chargesched/internal/battery"
	"github.com/kilowattlabs/chargesched/internal/clock"
	"github.com/kilowattlabs/chargesched/internal/config"
	"github.com/kilowattlabs/chargesched/internal/control"
	"github.com/kilowattlabs/chargesched/internal/executor"
	"github.com/kilowattlabs/chargesched/internal/planner"
	"github.com/kilowattlabs/chargesched/internal/session"
	"github.com/kilowattlabs/chargesched/internal/solar"
	"github.com/kilowattlabs/chargesched/internal/store"
	"github.com/kilowattlabs/chargesched/internal/tariff"
	"github.com/kilowattlabs/chargesched/internal/wake"
)

func main() {
	cfg := config.Configured()

	lflag.Configure()

	var level slog.Level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		slog.Error("failed to load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("failed to open schedule store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close schedule store", "error", err)
		}
	}()

	tariffClient := tariff.New(cfg.AgileURL)
	batteryClient := battery.New(cfg.BatteryBaseURL, cfg.BatterySiteID, cfg.BatteryAPIKey, cfg.DryRun)
	solarClient := solar.New(cfg.SolarForecastURL, cfg.SolarCachePath, cfg.SolarCacheTTL, cfg.SolarLatitude, cfg.SolarLongitude, solar.PanelModel{
		Count:         cfg.PanelCount,
		NominalWatts:  cfg.PanelNominalWatts,
		IrradianceRef: cfg.PanelIrradianceRef,
		Derating:      cfg.PanelDerating,
	})
	sessionClient := session.New(cfg.SavingSessionURL, cfg.NetZeroAPIKey, cfg.BatterySiteID)

	plnr := planner.New(planner.Config{
		TargetSOC:           cfg.TargetSOC,
		BatteryKWh:          cfg.BatteryKWh,
		ChargeRateKW:        cfg.ChargeRateKW,
		SlotHours:           cfg.SlotHours,
		BatteryReserveStart: cfg.BatteryReserveStart,
		FallbackSlots:       cfg.PlannerFallbackSlots,
		RunsPerDay:          cfg.SchedulerRunsPerDay,
	}, st, tariffClient, batteryClient, clk)

	wakeSignal := wake.New()
	status := control.NewStatus()

	ex := executor.New(executor.Config{
		BatteryReserveStart: cfg.BatteryReserveStart,
		BatteryReserveEnd:   cfg.BatteryReserveEnd,
		SOCSkipThreshold:    cfg.SOCSkipThreshold,
		PeakStartHour:       cfg.PeakStartHour,
		PeakEndHour:         cfg.PeakEndHour,
		MaxAgilePricePPK:    cfg.MaxAgilePricePPK,
		ChargeRateKW:        cfg.ChargeRateKW,
		SleepAheadSec:       cfg.ExecutorSleepAheadSec,
		IdleSleepSec:        cfg.ExecutorIdleSleepSec,
		PollInterval:        cfg.ExecutorPollInterval,
	}, st, batteryClient, tariffClient, solarClient, sessionClient, plnr, clk, wakeSignal, status)

	srv := control.NewServer(cfg.ControlListenAddr, st, status, ex, wakeSignal, clk.Location())
	if err := srv.Start(); err != nil {
		slog.Error("failed to start control surface", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Error("failed to stop control surface", "error", err)
		}
	}()

	slog.Info("chargesched starting", "db_path", cfg.DBPath, "timezone", cfg.Timezone, "listen_addr", cfg.ControlListenAddr)

	if err := ex.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("executor exited unexpectedly", "error", err)
		os.Exit(1)
	}
	slog.Info("chargesched exited cleanly")
}
