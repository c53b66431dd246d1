package executor

import (
	"context"
	"fmt"

	"github.com/kilowattlabs/chargesched/internal/model"
)

// StopIfActive implements the delete-active-schedule path of spec §4.8: if
// id is the currently active schedule, issue a safe-stop, append a
// `stopped` decision, mark the row terminal `cancelled`, and clear the
// active id. Returns whether id was in fact the active schedule.
func (e *Executor) StopIfActive(ctx context.Context, id int64) (bool, error) {
	activeID, ok := e.status.ActiveScheduleID()
	if !ok || activeID != id {
		return false, nil
	}

	e.battery.SetCharge(ctx, e.cfg.BatteryReserveEnd, false, "")

	row, err := e.store.GetByID(ctx, id)
	if err != nil {
		return true, fmt.Errorf("executor: stop_if_active reload: %w", err)
	}
	status := e.battery.Status(ctx)

	if err := e.store.AddDecision(ctx, DecisionInputFrom(row, model.DecisionStopped, "operator delete", status)); err != nil {
		return true, fmt.Errorf("executor: stop_if_active decision: %w", err)
	}
	if err := e.store.MarkTerminal(ctx, id, model.DecisionCancelled, e.clock.Now()); err != nil {
		return true, fmt.Errorf("executor: stop_if_active mark_terminal: %w", err)
	}

	e.status.SetActiveSchedule(nil)
	return true, nil
}

// ActiveScheduleID exposes the currently active schedule id, for the
// Control Surface's read under the Shared Status guard (spec §5).
func (e *Executor) ActiveScheduleID() (int64, bool) {
	return e.status.ActiveScheduleID()
}
