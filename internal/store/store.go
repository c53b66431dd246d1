// Package store is the durable Schedule/Decision store. It is the only
// durable shared state in the system (spec §5): the Executor, Planner, and
// Control Surface all write through it, serialised by an internal write
// lock, following the teacher's transaction idiom in
// scheduler/mpc_persistence.go (BeginTx/PrepareContext/defer Rollback)
// against github.com/mattn/go-sqlite3 instead of lib/pq.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kilowattlabs/chargesched/internal/model"
)

// ErrDuplicate is returned (wrapped) when an insert collides with the
// (start_time, end_time) unique index; callers treat it as "skip", not
// as a failure.
var ErrDuplicate = errors.New("duplicate schedule window")

const writeRetryAttempts = 5

// Store is the Schedule Store of spec §4.1.
type Store struct {
	db *sql.DB
	// writeMu serialises all writes, per spec §5 ("write-lock serialised,
	// reads concurrent"). sqlite3 itself serialises at the file level, but
	// the explicit lock is what lets us retry on SQLITE_BUSY with our own
	// backoff policy instead of failing the caller immediately.
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite file at path, enables WAL
// journalling, and runs Init. Mirrors the teacher's single *sql.DB-per-
// process shape (MinerScheduler.db) but owns its own driver selection.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The store is single-writer by design (writeMu); a single connection
	// avoids sqlite3's well-known "database is locked" cross-connection
	// contention under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schedules/decisions tables and indices if missing, and
// adds any missing optional columns non-destructively (spec §4.1 `init`).
// Idempotent, following original_source/data/migrate_decisions.py's intent
// of evolving the schema in place rather than dropping data.
func (s *Store) Init(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'autonomous',
			source TEXT NOT NULL DEFAULT 'scheduler',
			manual_override INTEGER NOT NULL DEFAULT 0,
			target_soc INTEGER,
			price_p_per_kwh REAL,
			executed INTEGER NOT NULL DEFAULT 0,
			expired INTEGER NOT NULL DEFAULT 0,
			decision TEXT,
			decision_at TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_utc TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_window ON schedules(start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_pending ON schedules(executed, expired, start_time)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			schedule_id INTEGER NOT NULL,
			start_time TEXT,
			end_time TEXT,
			action TEXT NOT NULL,
			reason TEXT,
			soc REAL,
			solar_power REAL,
			island_status TEXT,
			price_p_per_kwh REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_schedule ON decisions(schedule_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}

	return s.migrateOptionalColumns(ctx)
}

// migrateOptionalColumns probes the live schema with PRAGMA table_info and
// adds any column named in wantColumns that is missing, so that upgrading
// the binary never requires dropping the existing database file.
func (s *Store) migrateOptionalColumns(ctx context.Context) error {
	wantColumns := map[string]string{
		"retry_count":    "INTEGER NOT NULL DEFAULT 0",
		"last_retry_utc": "TEXT",
		"decision_at":    "TEXT",
	}

	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(schedules)`)
	if err != nil {
		return fmt.Errorf("store: inspect schema: %w", err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan table_info: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for col, def := range wantColumns {
		if existing[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE schedules ADD COLUMN %s %s", col, def)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: add column %s: %w", col, err)
		}
	}
	return nil
}

// withWriteLock runs fn serialised behind the store's write lock, retrying
// on a busy/locked sqlite error with linear backoff (spec §4.1/§7: "at
// least five attempts, linear backoff").
func (s *Store) withWriteLock(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= writeRetryAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = fmt.Errorf("store: begin tx: %w", err)
		} else {
			err = fn(ctx, tx)
			if err != nil {
				tx.Rollback()
				lastErr = err
			} else if err = tx.Commit(); err != nil {
				lastErr = fmt.Errorf("store: commit: %w", err)
			} else {
				return nil
			}
		}

		if !isBusyErr(lastErr) {
			return lastErr
		}
		if attempt < writeRetryAttempts {
			select {
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("store: write failed after %d attempts: %w", writeRetryAttempts, lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// AddSchedule inserts a pending non-override row with the given mode and
// source. Returns inserted=false (no
// error) on a unique-key collision, per spec §4.1.
func (s *Store) AddSchedule(ctx context.Context, start, end time.Time, mode model.Mode, source string, targetSOC *int, price *float64) (inserted bool, err error) {
	err = s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO schedules (start_time, end_time, mode, source, manual_override, target_soc, price_p_per_kwh)
			VALUES (?, ?, ?, ?, 0, ?, ?)
		`, fmtUTC(start), fmtUTC(end), string(mode), source, targetSOC, price)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				inserted = false
				return nil
			}
			return fmt.Errorf("store: add_schedule: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = true
		}
		return nil
	})
	return inserted, err
}

// AddBatch inserts N autonomous rows in a single transaction; duplicates
// are skipped silently. Returns the count actually inserted.
func (s *Store) AddBatch(ctx context.Context, rows []PlannedSlot) (int, error) {
	inserted := 0
	err := s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, prepErr := tx.PrepareContext(ctx, `
			INSERT INTO schedules (start_time, end_time, mode, source, manual_override, target_soc, price_p_per_kwh)
			VALUES (?, ?, 'autonomous', 'scheduler', 0, ?, ?)
		`)
		if prepErr != nil {
			return fmt.Errorf("store: add_batch prepare: %w", prepErr)
		}
		defer stmt.Close()

		inserted = 0
		for _, row := range rows {
			res, execErr := stmt.ExecContext(ctx, fmtUTC(row.Start), fmtUTC(row.End), row.TargetSOC, row.PricePPKWh)
			if execErr != nil {
				if isUniqueViolation(execErr) {
					continue
				}
				return fmt.Errorf("store: add_batch insert: %w", execErr)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// PlannedSlot is one row the Planner wants inserted.
type PlannedSlot struct {
	Start      time.Time
	End        time.Time
	TargetSOC  int
	PricePPKWh float64
}

// AddManualOverride inserts an operator-requested row with
// manual_override=1, mode='manual', source='manual'. Duplicates skipped.
func (s *Store) AddManualOverride(ctx context.Context, start, end time.Time, targetSOC int) (inserted bool, err error) {
	err = s.withWriteLock(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO schedules (start_time, end_time, mode, source, manual_override, target_soc)
			VALUES (?, ?, 'manual', 'manual', 1, ?)
		`, fmtUTC(start), fmtUTC(end), targetSOC)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				inserted = false
				return nil
			}
			return fmt.Errorf("store: add_manual_override: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = true
		}
		return nil
	})
	return inserted, err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fmtUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseUTC(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
