package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kilowattlabs/chargesched/internal/clock"
	"github.com/kilowattlabs/chargesched/internal/model"
	"github.com/kilowattlabs/chargesched/internal/session"
)

// processRow implements spec §4.7 "process_row": the fixed-order gate
// sequence, executed serially (no concurrent charging).
func (e *Executor) processRow(ctx context.Context, row model.Schedule) error {
	now := e.clock.Now()

	// Gate 2: battery status unavailable -> skip without terminalising.
	status := e.battery.Status(ctx)
	if status == nil {
		slog.WarnContext(ctx, "executor: battery status unavailable, deferring", "schedule_id", row.ID)
		return nil
	}
	e.publishLive(status)

	// Gate 3: off-grid.
	if status.OffGrid() {
		return e.terminate(ctx, row, model.DecisionCancelled, "Powerwall off-grid", status)
	}

	// Gate 4: saving session overlap.
	sessions := e.session.GetActiveSessions(ctx)
	if session.Overlaps(row.StartTime, row.EndTime, sessions) {
		return e.terminate(ctx, row, model.DecisionCancelled, "Saving sessions", status)
	}

	// Gate 5: not yet started -> publish waiting, sleep briefly, return.
	if now.Before(row.StartTime) {
		e.status.SetMessage(fmt.Sprintf("waiting for schedule %d to start", row.ID))
		delta := row.StartTime.Sub(now)
		if delta > HeartbeatInterval {
			delta = HeartbeatInterval
		}
		e.sleepHeartbeat(ctx, delta)
		return nil
	}

	// Step 6: mark as the active schedule for shutdown handling.
	id := row.ID
	e.status.SetActiveSchedule(&id)
	defer e.status.SetActiveSchedule(nil)

	// Step 7: current price.
	currentPrice := e.tariff.FetchRateFor(ctx, row.StartTime, row.EndTime)
	if currentPrice == nil {
		stored, err := e.store.GetStoredPrice(ctx, row.ID)
		if err != nil {
			stored = model.FallbackPricePPK
		}
		currentPrice = &stored
	}

	if !row.ManualOverride {
		// 8a: peak window.
		if e.inPeakWindow(row.StartTime) || e.inPeakWindow(row.EndTime) {
			return e.terminate(ctx, row, model.DecisionCancelled, "peak_window", status)
		}
		// 8b: SoC already high enough.
		if int(status.PercentageCharged) >= e.cfg.SOCSkipThreshold {
			reason := fmt.Sprintf("soc_high_%d", int(status.PercentageCharged))
			return e.terminate(ctx, row, model.DecisionCancelled, reason, status)
		}
		// 8c: price too high.
		if *currentPrice > e.cfg.MaxAgilePricePPK {
			reason := fmt.Sprintf("price_high_%.2f", *currentPrice)
			return e.terminate(ctx, row, model.DecisionCancelled, reason, status)
		}
		// 8d: enough forecast solar.
		if e.solar.HasEnoughSolar(ctx, row.StartTime, row.EndTime, e.cfg.ChargeRateKW) {
			e.battery.SetCharge(ctx, e.cfg.BatteryReserveEnd, false, "")
			return e.terminate(ctx, row, model.DecisionCancelled, "Forecasted enough Solar", status)
		}
	}

	// Step 9: choose reserve value.
	reserveValue := e.cfg.SOCSkipThreshold
	if row.ManualOverride {
		if row.TargetSOC != nil {
			reserveValue = *row.TargetSOC
		}
	} else if int(status.PercentageCharged) < e.cfg.BatteryReserveStart {
		reserveValue = e.cfg.BatteryReserveStart
	}

	// Step 10: start charging.
	if !e.battery.SetCharge(ctx, reserveValue, true, "autonomous") {
		slog.WarnContext(ctx, "executor: set_charge(start) failed, will retry next tick", "schedule_id", row.ID)
		_ = e.store.UpdateLastRetry(ctx, row.ID, now)
		return nil
	}
	_ = e.store.ResetRetry(ctx, row.ID)
	e.status.SetMessage(fmt.Sprintf("charging schedule %d", row.ID))

	// Step 11: heartbeat-sleep until end, or (manual) until target reached.
	if err := e.chargeUntilDone(ctx, row); err != nil {
		if ctx.Err() != nil {
			// Cancelled (SIGINT/SIGTERM): run the safe-shutdown path while
			// this row is still the active schedule.
			e.safeShutdown(context.Background())
			return err
		}
		// Step 13 (failure path): forced safe-stop + aborted.
		e.battery.SetCharge(ctx, e.cfg.BatteryReserveEnd, false, "")
		return e.terminate(ctx, row, model.DecisionAborted, "System_Error", status)
	}

	// Step 12: post-charge chaining.
	next, err := e.store.NextAfter(ctx, row.EndTime, e.cfg.ChainLookahead)
	if err == nil && next != nil {
		slog.InfoContext(ctx, "executor: chaining into next schedule, leaving grid charging on", "schedule_id", row.ID, "next_schedule_id", next.ID)
	} else {
		e.battery.SetCharge(ctx, e.cfg.BatteryReserveEnd, false, "")
	}

	// Step 13: terminal.
	return e.terminate(ctx, row, model.DecisionCompleted, "", status)
}

// chargeUntilDone runs step 11: heartbeat-sleep in 60s chunks until end,
// or until SoC reaches target for a manual override. Each chunk refreshes
// battery status and updates Shared Status.
func (e *Executor) chargeUntilDone(ctx context.Context, row model.Schedule) error {
	for {
		now := e.clock.Now()
		if !now.Before(row.EndTime) {
			return nil
		}

		status := e.battery.Status(ctx)
		if status != nil {
			e.publishLive(status)
			if row.ManualOverride && row.TargetSOC != nil && int(status.PercentageCharged) >= *row.TargetSOC {
				return nil
			}
		}

		remaining := row.EndTime.Sub(now)
		chunk := HeartbeatInterval
		if remaining < chunk {
			chunk = remaining
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.wake.Wait(chunk) {
			// re-evaluate immediately on next loop iteration; the wake
			// signal never carries its own reason (spec §5).
			continue
		}
	}
}

// terminate writes the terminal decision and audit row, per spec §4.7's
// "a terminal decision is written from every path".
func (e *Executor) terminate(ctx context.Context, row model.Schedule, decision model.Decision, reason string, status *model.BatteryStatus) error {
	now := e.clock.Now()

	if err := e.store.MarkTerminal(ctx, row.ID, decision, now); err != nil {
		return fmt.Errorf("executor: mark_terminal: %w", err)
	}

	d := DecisionInputFrom(row, decision, reason, status)
	if err := e.store.AddDecision(ctx, d); err != nil {
		return fmt.Errorf("executor: add_decision: %w", err)
	}

	e.status.SetActiveSchedule(nil)
	if reason != "" {
		e.status.SetMessage(fmt.Sprintf("schedule %d: %s: %s", row.ID, decision, reason))
	} else {
		e.status.SetMessage(fmt.Sprintf("schedule %d: %s", row.ID, decision))
	}
	return nil
}

// inPeakWindow reports whether t falls in the configured local peak
// window (spec §4.7 step 8a, boundary semantics per spec §8: peak_start
// <= t < peak_end).
func (e *Executor) inPeakWindow(t time.Time) bool {
	return clock.InPeakWindow(t, e.clock.Location(), e.cfg.PeakStartHour, e.cfg.PeakEndHour)
}

func (e *Executor) publishLive(status *model.BatteryStatus) {
	soc := status.PercentageCharged
	solar := status.SolarPowerKW
	e.status.SetLive(nil, &soc, &solar, islandLabel(status.IslandStatus))
}

func islandLabel(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
