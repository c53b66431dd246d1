package wake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetThenWaitReturnsImmediately(t *testing.T) {
	s := New()
	s.Set()

	start := time.Now()
	assert.True(t, s.Wait(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSetIsIdempotent(t *testing.T) {
	s := New()
	s.Set()
	s.Set()
	s.Set()

	assert.True(t, s.Wait(0))
	assert.False(t, s.Wait(0), "second Wait should observe the flag already cleared")
}

func TestClearLowersFlag(t *testing.T) {
	s := New()
	s.Set()
	s.Clear()

	assert.False(t, s.Wait(0))
}

func TestWaitTimesOut(t *testing.T) {
	s := New()
	start := time.Now()
	assert.False(t, s.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitUnblocksOnConcurrentSet(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Set()
	}()
	assert.True(t, s.Wait(time.Second))
}
