// Package model holds the shared data types for schedules and decisions.
package model

import (
	"strings"
	"time"
)

// Mode distinguishes how a Schedule came to exist.
type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModeManual     Mode = "manual"
)

// Decision labels the terminal (or transient retry) state of a Schedule.
type Decision string

const (
	DecisionCompleted Decision = "completed"
	DecisionCancelled Decision = "cancelled"
	DecisionExpired   Decision = "expired"
	DecisionAborted   Decision = "aborted"
	DecisionStopped   Decision = "stopped"
	DecisionDeleted   Decision = "deleted"
	DecisionError     Decision = "error"
)

// FallbackPricePPK is used by Store.GetStoredPrice when a schedule has no
// recorded price (manual overrides typically don't).
const FallbackPricePPK = 20.0

// Schedule is a single intended charging window.
type Schedule struct {
	ID             int64
	StartTime      time.Time
	EndTime        time.Time
	Mode           Mode
	Source         string
	ManualOverride bool
	TargetSOC      *int
	PricePPKWh     *float64
	Executed       bool
	Expired        bool
	DecisionLabel  *Decision
	DecisionAt     *time.Time
	RetryCount     int
	LastRetryUTC   *time.Time
	CreatedAt      time.Time
}

// Pending reports whether the row is still awaiting the executor.
func (s Schedule) Pending() bool {
	return !s.Executed && !s.Expired
}

// DecisionRow is one append-only audit entry.
type DecisionRow struct {
	ID            int64
	Timestamp     time.Time
	ScheduleID    int64
	StartTime     time.Time
	EndTime       time.Time
	Action        Decision
	Reason        string
	SOC           *float64
	SolarPower    *float64
	IslandStatus  string
	PricePPKWh    *float64
}

// PriceWindow is a single tariff half-hour.
type PriceWindow struct {
	ValidFrom time.Time
	ValidTo   time.Time
	RatePPKWh float64
}

// Covers reports whether t falls in the half-open window [ValidFrom, ValidTo).
func (p PriceWindow) Covers(t time.Time) bool {
	return !t.Before(p.ValidFrom) && t.Before(p.ValidTo)
}

// BatteryStatus is the live status read from the Battery Control Client.
type BatteryStatus struct {
	PercentageCharged float64
	GridCharging      bool
	GridStatus        string
	IslandStatus      string
	BatteryPowerKW    float64
	SolarPowerKW      float64
	LoadPowerKW       float64
	Timestamp         time.Time
}

// OffGrid reports whether the Powerwall-style island status indicates
// the site is disconnected from the utility grid.
func (b BatteryStatus) OffGrid() bool {
	return strings.HasPrefix(b.IslandStatus, "off_grid")
}

// SavingSession is a utility demand-response window currently ONGOING.
type SavingSession struct {
	StartUTC time.Time
	EndUTC   time.Time
}

// Overlaps reports whether any session intersects [windowStart, windowEnd).
func Overlaps(windowStart, windowEnd time.Time, sessions []SavingSession) bool {
	for _, s := range sessions {
		if s.StartUTC.Before(windowEnd) && windowStart.Before(s.EndUTC) {
			return true
		}
	}
	return false
}
