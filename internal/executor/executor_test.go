package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilowattlabs/chargesched/internal/model"
)

func TestSelectCandidatePrefersActiveRow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ex := &Executor{cfg: Config{SleepAheadSec: 600}}

	pending := []model.Schedule{
		{ID: 1, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)},
		{ID: 2, StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Minute)},
	}

	candidate, _, hasFuture := ex.selectCandidate(now, pending)
	require.NotNil(t, candidate)
	assert.Equal(t, int64(2), candidate.ID)
	assert.False(t, hasFuture)
}

func TestSelectCandidatePrefersDueSoonRow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ex := &Executor{cfg: Config{SleepAheadSec: 600}}

	pending := []model.Schedule{
		{ID: 1, StartTime: now.Add(5 * time.Minute), EndTime: now.Add(time.Hour)},
	}

	candidate, _, _ := ex.selectCandidate(now, pending)
	require.NotNil(t, candidate)
	assert.Equal(t, int64(1), candidate.ID)
}

func TestSelectCandidateReturnsEarliestFutureWhenNoneDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ex := &Executor{cfg: Config{SleepAheadSec: 60}}

	pending := []model.Schedule{
		{ID: 1, StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour)},
		{ID: 2, StartTime: now.Add(time.Hour), EndTime: now.Add(90 * time.Minute)},
	}

	candidate, earliest, hasFuture := ex.selectCandidate(now, pending)
	assert.Nil(t, candidate)
	require.True(t, hasFuture)
	assert.Equal(t, now.Add(time.Hour), earliest)
}
