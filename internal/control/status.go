// Package control is the Control Surface: the HTTP adapter between
// operator requests and Schedule Store writes/wake pulses (spec §4.8),
// plus the Shared Status record published by the Executor (spec §4.9).
// Grounded on the teacher's mutex-guarded SchedulerStatus
// (scheduler/scheduler.go) and its WebServer (scheduler/server.go).
package control

import (
	"sync"
	"time"
)

// Status is the Shared Status record of spec §4.9: written by the
// Executor at every meaningful transition and heartbeat tick, read by the
// Control Surface without blocking the Executor.
type Status struct {
	mu sync.RWMutex

	activeScheduleID  int64
	hasActiveSchedule bool
	currentPrice      *float64
	soc               *float64
	solarPower        *float64
	island            string
	message           string
	nextScheduleTime  *time.Time
	lastSchedulerRun  *time.Time
}

// NewStatus returns an empty Shared Status.
func NewStatus() *Status {
	return &Status{}
}

// Snapshot is the read-only view served by GET /status.
type Snapshot struct {
	ActiveScheduleID  *int64     `json:"active_schedule_id"`
	CurrentPrice      *float64   `json:"current_price"`
	SOC               *float64   `json:"soc"`
	SolarPower        *float64   `json:"solar_power"`
	Island            string     `json:"island"`
	Message           string     `json:"message"`
	NextScheduleTime  *time.Time `json:"next_schedule_time"`
	LastSchedulerRun  *time.Time `json:"last_scheduler_run"`
}

// Snapshot returns a copy of the current status.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		CurrentPrice:     s.currentPrice,
		SOC:              s.soc,
		SolarPower:       s.solarPower,
		Island:           s.island,
		Message:          s.message,
		NextScheduleTime: s.nextScheduleTime,
		LastSchedulerRun: s.lastSchedulerRun,
	}
	if s.hasActiveSchedule {
		id := s.activeScheduleID
		snap.ActiveScheduleID = &id
	}
	return snap
}

// SetActiveSchedule records the schedule currently being driven by the
// Executor, or clears it when id is nil.
func (s *Status) SetActiveSchedule(id *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		s.hasActiveSchedule = false
		s.activeScheduleID = 0
		return
	}
	s.hasActiveSchedule = true
	s.activeScheduleID = *id
}

// ActiveScheduleID returns the current active schedule id, if any. The
// Control Surface's delete-active-schedule path (spec §4.8) reads this
// under the Shared Status guard before issuing a safe-stop.
func (s *Status) ActiveScheduleID() (id int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeScheduleID, s.hasActiveSchedule
}

// Update merges non-nil fields into the status, matching the merge
// semantics of POST /update_status (spec §6).
func (s *Status) Update(u Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CurrentPrice != nil {
		s.currentPrice = u.CurrentPrice
	}
	if u.SOC != nil {
		s.soc = u.SOC
	}
	if u.SolarPower != nil {
		s.solarPower = u.SolarPower
	}
	if u.Island != "" {
		s.island = u.Island
	}
	if u.Message != "" {
		s.message = u.Message
	}
	if u.NextScheduleTime != nil {
		s.nextScheduleTime = u.NextScheduleTime
	}
	if u.LastSchedulerRun != nil {
		s.lastSchedulerRun = u.LastSchedulerRun
	}
}

// SetMessage records the most recent gate outcome in human-readable form
// (spec §7: "Shared Status message reflects the most recent gate
// outcome").
func (s *Status) SetMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = msg
}

// SetLive updates the live-telemetry fields the Executor refreshes on
// every heartbeat tick (spec §4.9).
func (s *Status) SetLive(price, soc, solarPower *float64, island string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if price != nil {
		s.currentPrice = price
	}
	if soc != nil {
		s.soc = soc
	}
	if solarPower != nil {
		s.solarPower = solarPower
	}
	if island != "" {
		s.island = island
	}
}

// SetNextScheduleTime records the earliest known future schedule start.
func (s *Status) SetNextScheduleTime(t *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextScheduleTime = t
}

// MarkSchedulerRun records a planner run, also serving as the heartbeat
// staleness check recovered from original_source/Keep_Alive.py (SPEC_FULL
// §11): an external process monitor can page if this goes stale.
func (s *Status) MarkSchedulerRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSchedulerRun = &t
}
