package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilowattlabs/chargesched/internal/clock"
	"github.com/kilowattlabs/chargesched/internal/control"
	"github.com/kilowattlabs/chargesched/internal/model"
	"github.com/kilowattlabs/chargesched/internal/store"
	"github.com/kilowattlabs/chargesched/internal/wake"
)

func TestStopIfActiveNoOpWhenNotActive(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "hooks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	battery := &fakeBattery{status: &model.BatteryStatus{PercentageCharged: 50}}
	ex := New(baseConfig(), st, battery, &fakeTariff{}, &fakeSolar{}, &fakeSession{}, fakePlanner{}, clock.Fixed{At: time.Now()}, wake.New(), control.NewStatus())

	stopped, err := ex.StopIfActive(context.Background(), 123)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, battery.setCharges)
}

func TestStopIfActiveStopsAndMarksCancelled(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "hooks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	battery := &fakeBattery{status: &model.BatteryStatus{PercentageCharged: 50}}
	ex := New(baseConfig(), st, battery, &fakeTariff{}, &fakeSolar{}, &fakeSession{}, fakePlanner{}, clock.Fixed{At: now}, wake.New(), control.NewStatus())

	row := insertRow(t, st, now.Add(-time.Hour), now.Add(time.Hour))
	id := row.ID
	ex.status.SetActiveSchedule(&id)

	stopped, err := ex.StopIfActive(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stopped)
	require.Len(t, battery.setCharges, 1)
	assert.False(t, battery.setCharges[0].grid)

	updated, err := st.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, updated.DecisionLabel)
	assert.Equal(t, model.DecisionCancelled, *updated.DecisionLabel)

	_, active := ex.status.ActiveScheduleID()
	assert.False(t, active)
}
