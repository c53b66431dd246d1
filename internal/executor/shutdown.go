package executor

import (
	"context"
	"log/slog"

	"github.com/kilowattlabs/chargesched/internal/model"
)

// safeShutdown implements the safe-shutdown path of spec §5/§7: if a
// schedule is active, issue one final safe-stop set_charge and one
// stopped decision before the process exits.
func (e *Executor) safeShutdown(ctx context.Context) {
	id, ok := e.status.ActiveScheduleID()
	if !ok {
		return
	}
	slog.InfoContext(ctx, "executor: safe shutdown, stopping active schedule", "schedule_id", id)

	e.battery.SetCharge(ctx, e.cfg.BatteryReserveEnd, false, "")

	row, err := e.store.GetByID(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "executor: safe shutdown could not reload schedule", "schedule_id", id, "error", err)
		return
	}

	status := e.battery.Status(ctx)
	now := e.clock.Now()

	if err := e.store.AddDecision(ctx, DecisionInputFrom(row, model.DecisionStopped, "manual_interrupt", status)); err != nil {
		slog.ErrorContext(ctx, "executor: safe shutdown decision write failed", "schedule_id", id, "error", err)
	}
	if err := e.store.MarkTerminal(ctx, id, model.DecisionStopped, now); err != nil {
		slog.ErrorContext(ctx, "executor: safe shutdown mark_terminal failed", "schedule_id", id, "error", err)
	}

	e.status.SetActiveSchedule(nil)
}
