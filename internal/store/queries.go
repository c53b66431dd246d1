package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kilowattlabs/chargesched/internal/model"
)

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (model.Schedule, error) {
	var sch model.Schedule
	var start, end, createdAt string
	var mode, source string
	var manualOverride, executed, expired int
	var targetSOC sql.NullInt64
	var price sql.NullFloat64
	var decision, decisionAt, lastRetryUTC sql.NullString
	var retryCount int

	err := scanner.Scan(
		&sch.ID, &start, &end, &mode, &source, &manualOverride,
		&targetSOC, &price, &executed, &expired, &decision, &decisionAt,
		&retryCount, &lastRetryUTC, &createdAt,
	)
	if err != nil {
		return sch, err
	}

	sch.StartTime, err = parseUTC(start)
	if err != nil {
		return sch, fmt.Errorf("store: parse start_time: %w", err)
	}
	sch.EndTime, err = parseUTC(end)
	if err != nil {
		return sch, fmt.Errorf("store: parse end_time: %w", err)
	}
	sch.CreatedAt, err = parseUTC(createdAt)
	if err != nil {
		sch.CreatedAt = time.Time{}
	}
	sch.Mode = model.Mode(mode)
	sch.Source = source
	sch.ManualOverride = manualOverride != 0
	sch.Executed = executed != 0
	sch.Expired = expired != 0
	sch.RetryCount = retryCount

	if targetSOC.Valid {
		v := int(targetSOC.Int64)
		sch.TargetSOC = &v
	}
	if price.Valid {
		v := price.Float64
		sch.PricePPKWh = &v
	}
	if decision.Valid {
		d := model.Decision(decision.String)
		sch.DecisionLabel = &d
	}
	if decisionAt.Valid {
		if t, perr := parseUTC(decisionAt.String); perr == nil {
			sch.DecisionAt = &t
		}
	}
	if lastRetryUTC.Valid {
		if t, perr := parseUTC(lastRetryUTC.String); perr == nil {
			sch.LastRetryUTC = &t
		}
	}

	return sch, nil
}

const scheduleColumns = `id, start_time, end_time, mode, source, manual_override,
	target_soc, price_p_per_kwh, executed, expired, decision, decision_at,
	retry_count, last_retry_utc, created_at`

// FetchPending returns all pending rows ordered by start_time ascending.
func (s *Store) FetchPending(ctx context.Context) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE executed = 0 AND expired = 0
		ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: fetch_pending: %w", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		sch, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: fetch_pending scan: %w", scanErr)
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

// GetByID returns a single row, or sql.ErrNoRows if absent.
func (s *Store) GetByID(ctx context.Context, id int64) (model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

// RecentDecisions returns the most recent decision rows across all
// schedules, newest first, bounded by limit. Recovered from the original
// source's viewdb.py inspection path (SPEC_FULL §11): there is no
// equivalent op in spec §4.1, but it is a pure read with no bearing on the
// core invariants.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]model.DecisionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, schedule_id, start_time, end_time, action, reason, soc, solar_power, island_status, price_p_per_kwh
		FROM decisions
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent_decisions: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionRow
	for rows.Next() {
		var d model.DecisionRow
		var ts string
		var start, end sql.NullString
		var reason, island sql.NullString
		var soc, solar, price sql.NullFloat64

		if err := rows.Scan(&d.ID, &ts, &d.ScheduleID, &start, &end, &d.Action, &reason, &soc, &solar, &island, &price); err != nil {
			return nil, fmt.Errorf("store: recent_decisions scan: %w", err)
		}
		if t, perr := parseUTC(ts); perr == nil {
			d.Timestamp = t
		}
		if start.Valid {
			if t, perr := parseUTC(start.String); perr == nil {
				d.StartTime = t
			}
		}
		if end.Valid {
			if t, perr := parseUTC(end.String); perr == nil {
				d.EndTime = t
			}
		}
		d.Reason = reason.String
		d.IslandStatus = island.String
		if soc.Valid {
			v := soc.Float64
			d.SOC = &v
		}
		if solar.Valid {
			v := solar.Float64
			d.SolarPower = &v
		}
		if price.Valid {
			v := price.Float64
			d.PricePPKWh = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetStoredPrice returns the row's recorded price, or model.FallbackPricePPK
// if it has none (manual overrides typically don't).
func (s *Store) GetStoredPrice(ctx context.Context, id int64) (float64, error) {
	var price sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT price_p_per_kwh FROM schedules WHERE id = ?`, id).Scan(&price)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.FallbackPricePPK, nil
		}
		return 0, fmt.Errorf("store: get_stored_price: %w", err)
	}
	if !price.Valid {
		return model.FallbackPricePPK, nil
	}
	return price.Float64, nil
}
