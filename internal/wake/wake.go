// Package wake implements the process-wide, level-triggered wake signal
// of spec §4.8/§9: a one-bit condition variable with set/clear/wait
// semantics. Grounded on the teacher's PeriodicTask stop-channel idiom
// (a signal a long-running loop can observe without busy-polling), but a
// level-triggered flag rather than a one-shot stop, since the Executor
// must be able to clear and re-wait on it indefinitely.
package wake

import "time"

// Signal is a level-triggered wake event. Set is idempotent: multiple
// calls before a Wait/Clear leave it simply "set". The design explicitly
// forbids the signal from carrying data (spec §5): a waiter only learns
// "re-evaluate now", never why.
type Signal struct {
	ch chan struct{}
}

// New returns a cleared Signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Set raises the flag. Non-blocking; safe to call from any goroutine.
func (s *Signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Clear lowers the flag without waiting.
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// Wait blocks until the flag is set or timeout elapses, then clears it.
// Returns true if it returned because the flag was set, false on timeout.
// This is the "sleep with heartbeat" primitive of spec §9: callers invoke
// it in a bounded loop so that no single sleep exceeds the heartbeat
// interval named in spec §4.7 (60s).
func (s *Signal) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-s.ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}
