package planner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilowattlabs/chargesched/internal/clock"
	"github.com/kilowattlabs/chargesched/internal/model"
	st "github.com/kilowattlabs/chargesched/internal/store"
	"github.com/kilowattlabs/chargesched/internal/tariff"
)

type fakeBattery struct {
	status *model.BatteryStatus
}

func (f fakeBattery) Status(ctx context.Context) *model.BatteryStatus {
	return f.status
}

func openTestStore(t *testing.T) *st.Store {
	t.Helper()
	s, err := st.Open(context.Background(), filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShouldRunFirstTimeIsTrue(t *testing.T) {
	p := New(Config{RunsPerDay: 4}, nil, nil, nil, clock.Fixed{At: time.Now()})
	assert.True(t, p.ShouldRun(time.Now()))
}

func TestShouldRunRespectsInterval(t *testing.T) {
	p := New(Config{RunsPerDay: 4}, nil, nil, nil, clock.Fixed{At: time.Now()})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, p.ShouldRun(now))
	p.lastRun = now

	assert.False(t, p.ShouldRun(now.Add(5*time.Hour)))
	assert.True(t, p.ShouldRun(now.Add(7*time.Hour)))
}

func tariffServer(t *testing.T) *httptest.Server {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"valid_from":"` + base.Format(time.RFC3339) + `","valid_to":"` + base.Add(30*time.Minute).Format(time.RFC3339) + `","value_inc_vat":30},
			{"valid_from":"` + base.Add(30*time.Minute).Format(time.RFC3339) + `","valid_to":"` + base.Add(time.Hour).Format(time.RFC3339) + `","value_inc_vat":10},
			{"valid_from":"` + base.Add(time.Hour).Format(time.RFC3339) + `","valid_to":"` + base.Add(90*time.Minute).Format(time.RFC3339) + `","value_inc_vat":20}
		]}`))
	}))
}

func TestRunPicksCheapestSlotsByPriceThenTime(t *testing.T) {
	ts := tariffServer(t)
	defer ts.Close()

	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := New(Config{
		TargetSOC:           90,
		BatteryKWh:          10,
		ChargeRateKW:        5,
		SlotHours:           0.5,
		BatteryReserveStart: 20,
		FallbackSlots:       2,
	}, store, tariff.New(ts.URL), fakeBattery{status: &model.BatteryStatus{PercentageCharged: 80}}, clock.Fixed{At: now})

	inserted, err := p.Run(context.Background())
	require.NoError(t, err)
	// soc gap: (90-80)/100*10 = 1kWh; at 5kW that's 0.2h -> 1 slot (ceil(0.2/0.5)=1)
	assert.Equal(t, 1, inserted)

	pending, err := store.FetchPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 10.0, *pending[0].PricePPKWh, "the cheapest slot should be chosen")
}

func TestRunFallsBackToConfiguredSlotsWhenBatteryUnavailable(t *testing.T) {
	ts := tariffServer(t)
	defer ts.Close()

	store := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := New(Config{
		FallbackSlots:       2,
		BatteryReserveStart: 20,
	}, store, tariff.New(ts.URL), fakeBattery{status: nil}, clock.Fixed{At: now})

	inserted, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}
