// Package executor is the Executor control loop of spec §4.7: the
// largest component, driving each pending Schedule through its lifecycle
// and issuing battery commands. Grounded on the teacher's PeriodicTask
// run-loop shape (ctx + stopChan, ticker-driven re-evaluation,
// logger-per-tick) in scheduler/scheduler.go, generalised from a
// miner-power-threshold loop into the gated schedule state machine spec
// §4.7 requires.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/kilowattlabs/chargesched/internal/clock"
	"github.com/kilowattlabs/chargesched/internal/control"
	"github.com/kilowattlabs/chargesched/internal/model"
	"github.com/kilowattlabs/chargesched/internal/store"
	"github.com/kilowattlabs/chargesched/internal/wake"
)

// HeartbeatInterval bounds every Executor sleep (spec §9: "no Executor
// sleep exceed the heartbeat interval (60s)").
const HeartbeatInterval = 60 * time.Second

// BatteryClient is the Battery Control Client surface the Executor needs.
type BatteryClient interface {
	Status(ctx context.Context) *model.BatteryStatus
	SetCharge(ctx context.Context, reservePercent int, gridCharging bool, mode string) bool
}

// TariffClient is the Tariff Client surface the Executor needs.
type TariffClient interface {
	FetchRateFor(ctx context.Context, windowStart, windowEnd time.Time) *float64
}

// SolarClient is the Solar Forecast Client surface the Executor needs.
type SolarClient interface {
	RefreshIfStale(ctx context.Context)
	HasEnoughSolar(ctx context.Context, start, end time.Time, targetKWh float64) bool
}

// SessionClient is the Saving-Session Client surface the Executor needs.
type SessionClient interface {
	GetActiveSessions(ctx context.Context) []model.SavingSession
}

// Planner is the periodic re-planning surface the Executor drives (spec
// §4.6 trigger a).
type Planner interface {
	ShouldRun(now time.Time) bool
	Run(ctx context.Context) (int, error)
}

// Config is the Executor's slice of process configuration.
type Config struct {
	BatteryReserveStart int
	BatteryReserveEnd   int
	SOCSkipThreshold    int
	PeakStartHour       int
	PeakEndHour         int
	MaxAgilePricePPK    float64
	ChargeRateKW        float64
	SleepAheadSec       int
	IdleSleepSec        int
	PollInterval        int
	ChainLookahead       time.Duration
}

// Executor is the control loop of spec §4.7.
type Executor struct {
	cfg     Config
	store   *store.Store
	battery BatteryClient
	tariff  TariffClient
	solar   SolarClient
	session SessionClient
	planner Planner
	clock   clock.Clock
	wake    *wake.Signal
	status  *control.Status
}

// New returns an Executor.
func New(cfg Config, st *store.Store, batteryClient BatteryClient, tariffClient TariffClient, solarClient SolarClient, sessionClient SessionClient, plnr Planner, clk clock.Clock, wakeSignal *wake.Signal, status *control.Status) *Executor {
	if cfg.ChainLookahead <= 0 {
		cfg.ChainLookahead = 30 * time.Minute
	}
	return &Executor{
		cfg:     cfg,
		store:   st,
		battery: batteryClient,
		tariff:  tariffClient,
		solar:   solarClient,
		session: sessionClient,
		planner: plnr,
		clock:   clk,
		wake:    wakeSignal,
		status:  status,
	}
}

// Run executes the loop of spec §4.7 until ctx is cancelled, at which
// point it runs the safe-shutdown path (spec §5/§7) before returning.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.safeShutdown(context.Background())
			return ctx.Err()
		default:
		}

		if err := e.tick(ctx); err != nil {
			slog.ErrorContext(ctx, "executor: tick failed", "error", err)
		}

		if ctx.Err() != nil {
			e.safeShutdown(context.Background())
			return ctx.Err()
		}
	}
}

// tick is one iteration of the loop body in spec §4.7 steps 1-8.
func (e *Executor) tick(ctx context.Context) error {
	now := e.clock.Now()

	if _, err := e.store.MarkAllExpired(ctx, now); err != nil {
		slog.WarnContext(ctx, "executor: mark_all_expired failed", "error", err)
	}

	if e.planner.ShouldRun(now) {
		if _, err := e.planner.Run(ctx); err != nil {
			slog.WarnContext(ctx, "executor: planner run failed", "error", err)
		} else {
			e.status.MarkSchedulerRun(now)
		}
	}

	e.solar.RefreshIfStale(ctx)

	pending, err := e.store.FetchPending(ctx)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		e.sleepHeartbeat(ctx, time.Duration(e.cfg.IdleSleepSec)*time.Second)
		return nil
	}

	candidate, earliestFuture, hasEarliestFuture := e.selectCandidate(now, pending)
	if candidate != nil {
		e.status.SetNextScheduleTime(nil)
		return e.processRow(ctx, *candidate)
	}

	if hasEarliestFuture {
		e.status.SetNextScheduleTime(&earliestFuture)
	}

	sleepFor := time.Duration(e.cfg.IdleSleepSec) * time.Second
	if hasEarliestFuture {
		untilSleepAhead := earliestFuture.Sub(now) - time.Duration(e.cfg.SleepAheadSec)*time.Second
		pollFloor := time.Duration(e.cfg.PollInterval) * time.Second
		if untilSleepAhead < pollFloor {
			untilSleepAhead = pollFloor
		}
		sleepFor = untilSleepAhead
	}
	e.sleepHeartbeat(ctx, sleepFor)
	return nil
}

// selectCandidate scans pending rows in start_time order (already sorted
// by the store) and picks the first in "active" or "due-soon" state (spec
// §4.7 step 7). If none qualifies, it returns the earliest future
// start_time for the caller's sleep-duration calculation.
func (e *Executor) selectCandidate(now time.Time, pending []model.Schedule) (candidate *model.Schedule, earliestFuture time.Time, hasEarliestFuture bool) {
	sleepAhead := time.Duration(e.cfg.SleepAheadSec) * time.Second

	for i := range pending {
		row := pending[i]
		switch {
		case !row.StartTime.After(now) && row.EndTime.After(now):
			// active
			return &row, time.Time{}, false
		case row.StartTime.After(now) && row.StartTime.Sub(now) <= sleepAhead:
			// due-soon
			return &row, time.Time{}, false
		case row.StartTime.After(now):
			if !hasEarliestFuture || row.StartTime.Before(earliestFuture) {
				earliestFuture = row.StartTime
				hasEarliestFuture = true
			}
		}
	}
	return nil, earliestFuture, hasEarliestFuture
}

// sleepHeartbeat sleeps for d, but never past HeartbeatInterval at a
// stretch, wakeable by the wake signal (spec §9's bounded-loop idiom).
func (e *Executor) sleepHeartbeat(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		remaining := time.Until(deadline)
		chunk := HeartbeatInterval
		if remaining < chunk {
			chunk = remaining
		}
		if e.wake.Wait(chunk) {
			return
		}
	}
}
