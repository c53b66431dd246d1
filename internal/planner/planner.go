// Package planner selects the N cheapest upcoming tariff slots needed to
// reach a target SoC and writes them to the Schedule Store (spec §4.6).
// Grounded on the teacher's MinerScheduler.runPriceCheck/getCurrentAvgPrice
// pattern (scheduler/pricing.go) of fetch-then-decide-then-act, rebuilt
// around a cheapest-N-slot selection instead of a single price threshold.
package planner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kilowattlabs/chargesched/internal/clock"
	"github.com/kilowattlabs/chargesched/internal/model"
	"github.com/kilowattlabs/chargesched/internal/store"
	"github.com/kilowattlabs/chargesched/internal/tariff"
)

// BatteryStatusReader is the subset of the Battery Control Client the
// planner needs, so it can be exercised without a live battery in tests.
type BatteryStatusReader interface {
	Status(ctx context.Context) *model.BatteryStatus
}

// Config is the planner's slice of the process configuration.
type Config struct {
	TargetSOC            int
	BatteryKWh           float64
	ChargeRateKW         float64
	SlotHours            float64
	BatteryReserveStart  int
	FallbackSlots        int
	RunsPerDay           int
	TariffLookaheadHours int
}

// Planner implements spec §4.6.
type Planner struct {
	cfg     Config
	store   *store.Store
	tariff  *tariff.Client
	battery BatteryStatusReader
	clock   clock.Clock

	lastRun time.Time
}

// New returns a Planner.
func New(cfg Config, st *store.Store, tariffClient *tariff.Client, batteryClient BatteryStatusReader, clk clock.Clock) *Planner {
	if cfg.TariffLookaheadHours <= 0 {
		cfg.TariffLookaheadHours = 24
	}
	return &Planner{cfg: cfg, store: st, tariff: tariffClient, battery: batteryClient, clock: clk}
}

// ShouldRun reports whether the periodic re-plan is due: never run, or
// more than 24/runs_per_day hours elapsed since last run (spec §4.6
// trigger a).
func (p *Planner) ShouldRun(now time.Time) bool {
	if p.lastRun.IsZero() {
		return true
	}
	interval := time.Duration(24.0/float64(p.cfg.RunsPerDay)*3600) * time.Second
	return now.Sub(p.lastRun) > interval
}

// Run executes the planning algorithm of spec §4.6 and inserts the chosen
// slots. Returns the number of rows inserted.
func (p *Planner) Run(ctx context.Context) (int, error) {
	now := p.clock.Now()
	p.lastRun = now

	soc := p.currentSOC(ctx)

	slotsNeeded := p.cfg.FallbackSlots
	if soc >= 0 {
		kwhNeeded := math.Max(0, float64(p.cfg.TargetSOC)-soc) / 100.0 * p.cfg.BatteryKWh
		hoursNeeded := 0.0
		if p.cfg.ChargeRateKW > 0 {
			hoursNeeded = kwhNeeded / p.cfg.ChargeRateKW
		}
		slotsNeeded = int(math.Ceil(hoursNeeded / p.cfg.SlotHours))
	}
	if slotsNeeded < 1 {
		slotsNeeded = 1
	}

	windows := p.tariff.FetchRates(ctx, now, now.Add(time.Duration(p.cfg.TariffLookaheadHours)*time.Hour))

	var candidates []model.PriceWindow
	for _, w := range windows {
		if !w.ValidTo.After(now) {
			continue
		}
		candidates = append(candidates, w)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].RatePPKWh != candidates[j].RatePPKWh {
			return candidates[i].RatePPKWh < candidates[j].RatePPKWh
		}
		return candidates[i].ValidFrom.Before(candidates[j].ValidFrom)
	})

	if slotsNeeded > len(candidates) {
		slotsNeeded = len(candidates)
	}
	chosen := candidates[:slotsNeeded]

	sort.Slice(chosen, func(i, j int) bool {
		return chosen[i].ValidFrom.Before(chosen[j].ValidFrom)
	})

	slots := make([]store.PlannedSlot, 0, len(chosen))
	for _, w := range chosen {
		price := w.RatePPKWh
		slots = append(slots, store.PlannedSlot{
			Start:      w.ValidFrom,
			End:        w.ValidTo,
			TargetSOC:  p.cfg.BatteryReserveStart,
			PricePPKWh: price,
		})
	}

	inserted, err := p.store.AddBatch(ctx, slots)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "planner: run complete", "slots_needed", slotsNeeded, "candidates", len(candidates), "inserted", inserted)
	return inserted, nil
}

// currentSOC reads SoC from the Battery Control Client. Returns -1 on
// failure so the caller falls back to the configured slot count (spec
// §4.6 step 1).
func (p *Planner) currentSOC(ctx context.Context) float64 {
	status := p.battery.Status(ctx)
	if status == nil {
		return -1
	}
	return status.PercentageCharged
}
