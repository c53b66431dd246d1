// Package clock provides the UTC/local-time service used throughout
// chargesched. Schedules are stored and compared in UTC; the configured
// IANA timezone is only consulted where the spec calls for a civil-time
// decision (peak-hour windows, sunrise/sunset bounding).
package clock

import "time"

// Clock abstracts time.Now so tests can inject a fixed instant, the way
// the pack's provider types (utility.Provider, ess.Provider) are injected
// rather than reaching for a package-level singleton.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Real is the production Clock, backed by the system clock and a loaded
// IANA timezone.
type Real struct {
	loc *time.Location
}

// New loads the named IANA timezone and returns a Clock that reports
// wall-clock time in that zone. The zone is validated by Config.Validate
// before this is called, so a load failure here is a configuration bug.
func New(timezone string) (*Real, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &Real{loc: loc}, nil
}

// Now returns the current instant in UTC. Callers that need civil time
// call Now().In(c.Location()).
func (c *Real) Now() time.Time {
	return time.Now().UTC()
}

// Location returns the configured civil timezone.
func (c *Real) Location() *time.Location {
	return c.loc
}

// Fixed is a Clock that always reports the same instant, for tests.
type Fixed struct {
	At  time.Time
	Loc *time.Location
}

// Now returns the fixed instant, in UTC.
func (c Fixed) Now() time.Time {
	return c.At.UTC()
}

// Location returns the fixed zone, or UTC if none was set.
func (c Fixed) Location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// LocalHour returns the hour-of-day (0-23) that t falls on in loc, the
// basis for peak-window comparisons (spec §4.2/§6 PEAK_START_HOUR/PEAK_END_HOUR).
func LocalHour(t time.Time, loc *time.Location) int {
	return t.In(loc).Hour()
}

// InPeakWindow reports whether t's local hour falls in the half-open
// window [peakStartHour, peakEndHour).
func InPeakWindow(t time.Time, loc *time.Location, peakStartHour, peakEndHour int) bool {
	h := LocalHour(t, loc)
	if peakStartHour <= peakEndHour {
		return h >= peakStartHour && h < peakEndHour
	}
	// wraps past midnight
	return h >= peakStartHour || h < peakEndHour
}
