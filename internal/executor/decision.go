package executor

import (
	"github.com/kilowattlabs/chargesched/internal/model"
	"github.com/kilowattlabs/chargesched/internal/store"
)

// DecisionInputFrom builds a store.DecisionInput from a Schedule and the
// battery status observed at decision time (may be nil).
func DecisionInputFrom(row model.Schedule, decision model.Decision, reason string, status *model.BatteryStatus) store.DecisionInput {
	d := store.DecisionInput{
		ScheduleID: row.ID,
		StartTime:  row.StartTime,
		EndTime:    row.EndTime,
		Action:     decision,
		Reason:     reason,
		PricePPKWh: row.PricePPKWh,
	}
	if status != nil {
		soc := status.PercentageCharged
		solar := status.SolarPowerKW
		d.SOC = &soc
		d.SolarPower = &solar
		d.IslandStatus = status.IslandStatus
	}
	return d
}
