package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kilowattlabs/chargesched/internal/model"
)

// DecisionInput is the set of optional context fields attached to a
// decision audit row (spec §3 Decision).
type DecisionInput struct {
	ScheduleID   int64
	StartTime    time.Time
	EndTime      time.Time
	Action       model.Decision
	Reason       string
	SOC          *float64
	SolarPower   *float64
	IslandStatus string
	PricePPKWh   *float64
}

// AddDecision appends an audit row. Decisions are never mutated, only
// inserted (spec §3).
func (s *Store) AddDecision(ctx context.Context, d DecisionInput) error {
	return s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (schedule_id, start_time, end_time, action, reason, soc, solar_power, island_status, price_p_per_kwh)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ScheduleID, fmtUTC(d.StartTime), fmtUTC(d.EndTime), string(d.Action), d.Reason, d.SOC, d.SolarPower, d.IslandStatus, d.PricePPKWh)
		if err != nil {
			return fmt.Errorf("store: add_decision: %w", err)
		}
		return nil
	})
}

// hasDecision reports whether a decision with the given action already
// exists for scheduleID, used to make mark_terminal/mark_all_expired
// idempotent without a unique constraint on (schedule_id, action).
func hasDecision(ctx context.Context, tx *sql.Tx, scheduleID int64, action model.Decision) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM decisions WHERE schedule_id = ? AND action = ?`, scheduleID, string(action)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkTerminal sets executed/expired per the decision label and writes
// decision/decision_at. Re-applying the same decision to an already
// terminal row is a no-op (spec §4.1 idempotence).
func (s *Store) MarkTerminal(ctx context.Context, id int64, decision model.Decision, now time.Time) error {
	return s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var currentDecision sql.NullString
		var executed, expired int
		err := tx.QueryRowContext(ctx, `SELECT decision, executed, expired FROM schedules WHERE id = ?`, id).
			Scan(&currentDecision, &executed, &expired)
		if err == sql.ErrNoRows {
			return fmt.Errorf("store: mark_terminal: schedule %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("store: mark_terminal: %w", err)
		}
		if currentDecision.Valid && model.Decision(currentDecision.String) == decision {
			return nil // idempotent no-op
		}

		executedVal := 0
		expiredVal := 0
		if decision == model.DecisionExpired {
			expiredVal = 1
		} else {
			executedVal = 1
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE schedules
			SET executed = ?, expired = ?, decision = ?, decision_at = ?
			WHERE id = ?
		`, executedVal, expiredVal, string(decision), fmtUTC(now), id)
		if err != nil {
			return fmt.Errorf("store: mark_terminal update: %w", err)
		}
		return nil
	})
}

// Remove deletes the row and appends a deleted decision, in one
// transaction (spec §4.1 `remove`).
func (s *Store) Remove(ctx context.Context, id int64) error {
	return s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var start, end string
		err := tx.QueryRowContext(ctx, `SELECT start_time, end_time FROM schedules WHERE id = ?`, id).Scan(&start, &end)
		if err == sql.ErrNoRows {
			return nil // already gone; remove is idempotent
		}
		if err != nil {
			return fmt.Errorf("store: remove lookup: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (schedule_id, start_time, end_time, action, reason)
			VALUES (?, ?, ?, ?, ?)
		`, id, start, end, string(model.DecisionDeleted), "operator delete")
		if err != nil {
			return fmt.Errorf("store: remove decision: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
			return fmt.Errorf("store: remove delete: %w", err)
		}
		return nil
	})
}

// MarkAllExpired expires every pending row with end_time < now, writing
// exactly one `expired` decision per schedule (spec §4.1 `mark_all_expired`,
// idempotent per spec §8). Returns the count expired.
func (s *Store) MarkAllExpired(ctx context.Context, now time.Time) (int, error) {
	count := 0
	err := s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, start_time, end_time FROM schedules
			WHERE executed = 0 AND expired = 0 AND end_time < ?
		`, fmtUTC(now))
		if err != nil {
			return fmt.Errorf("store: mark_all_expired query: %w", err)
		}
		type row struct {
			id         int64
			start, end string
		}
		var candidates []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.start, &r.end); err != nil {
				rows.Close()
				return fmt.Errorf("store: mark_all_expired scan: %w", err)
			}
			candidates = append(candidates, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, r := range candidates {
			if _, err := tx.ExecContext(ctx, `
				UPDATE schedules SET expired = 1, decision = ?, decision_at = ? WHERE id = ?
			`, string(model.DecisionExpired), fmtUTC(now), r.id); err != nil {
				return fmt.Errorf("store: mark_all_expired update: %w", err)
			}

			already, err := hasDecision(ctx, tx, r.id, model.DecisionExpired)
			if err != nil {
				return fmt.Errorf("store: mark_all_expired dedupe: %w", err)
			}
			if !already {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO decisions (schedule_id, start_time, end_time, action, reason)
					VALUES (?, ?, ?, ?, ?)
				`, r.id, r.start, r.end, string(model.DecisionExpired), "schedule window elapsed"); err != nil {
					return fmt.Errorf("store: mark_all_expired decision: %w", err)
				}
			}
			count++
		}
		return nil
	})
	return count, err
}

// GetLastRetry returns the retry bookkeeping for a row.
func (s *Store) GetLastRetry(ctx context.Context, id int64) (count int, lastRetry *time.Time, err error) {
	var lastRetryUTC sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT retry_count, last_retry_utc FROM schedules WHERE id = ?`, id).
		Scan(&count, &lastRetryUTC)
	if err != nil {
		return 0, nil, fmt.Errorf("store: get_last_retry: %w", err)
	}
	if lastRetryUTC.Valid {
		if t, perr := parseUTC(lastRetryUTC.String); perr == nil {
			lastRetry = &t
		}
	}
	return count, lastRetry, nil
}

// UpdateLastRetry bumps retry_count and sets last_retry_utc = now.
func (s *Store) UpdateLastRetry(ctx context.Context, id int64, now time.Time) error {
	return s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE schedules SET retry_count = retry_count + 1, last_retry_utc = ? WHERE id = ?
		`, fmtUTC(now), id)
		if err != nil {
			return fmt.Errorf("store: update_last_retry: %w", err)
		}
		return nil
	})
}

// ResetRetry clears retry bookkeeping, typically after a successful action.
func (s *Store) ResetRetry(ctx context.Context, id int64) error {
	return s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE schedules SET retry_count = 0, last_retry_utc = NULL WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("store: reset_retry: %w", err)
		}
		return nil
	})
}

// GetRetryCount returns just the retry_count column.
func (s *Store) GetRetryCount(ctx context.Context, id int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM schedules WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: get_retry_count: %w", err)
	}
	return count, nil
}

// NextAfter returns the earliest pending row whose start_time falls within
// [after, after+lookahead), used by the Executor's post-charge chaining
// check (spec §4.7 step 12).
func (s *Store) NextAfter(ctx context.Context, after time.Time, lookahead time.Duration) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE executed = 0 AND expired = 0 AND start_time >= ? AND start_time < ?
		ORDER BY start_time ASC
		LIMIT 1
	`, fmtUTC(after), fmtUTC(after.Add(lookahead)))
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: next_after: %w", err)
	}
	return &sch, nil
}
