// Package sqlite provides the default durable checkpoint store backed by an
// embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

//go:embed schema.sql
var Schema string

const selectColumns = `vehicle_id, group_id, status, attempt_count, last_error, row_count, updated_at`

// CheckpointStore persists checkpoints in a single SQLite table.
type CheckpointStore struct {
	db    *sql.DB
	clock crawler.Clock
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*CheckpointStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint.path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store, err := New(ctx, db, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle, applying the schema. A nil clock uses the wall clock.
func New(ctx context.Context, db *sql.DB, clk crawler.Clock) (*CheckpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	// One writer keeps claim upserts serialized and :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("apply checkpoint schema: %w", err)
	}
	return &CheckpointStore{db: db, clock: clk}, nil
}

// Close releases the database handle.
func (s *CheckpointStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *CheckpointStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (s *CheckpointStore) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// Register inserts a PENDING row unless one exists.
func (s *CheckpointStore) Register(ctx context.Context, key crawler.UnitKey) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints (vehicle_id, group_id, status, updated_at)
VALUES (?, ?, 'PENDING', ?)
ON CONFLICT (vehicle_id, group_id) DO NOTHING`,
		key.VehicleID, key.GroupID, s.now())
	if err != nil {
		return fmt.Errorf("register checkpoint: %w", err)
	}
	return nil
}

// Get loads the row for key.
func (s *CheckpointStore) Get(ctx context.Context, key crawler.UnitKey) (crawler.CheckpointRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints WHERE vehicle_id = ? AND group_id = ?`,
		key.VehicleID, key.GroupID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CheckpointRecord{}, false, nil
	}
	if err != nil {
		return crawler.CheckpointRecord{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	return rec, true, nil
}

// Claim upserts IN_PROGRESS when the row is absent or PENDING.
func (s *CheckpointStore) Claim(ctx context.Context, key crawler.UnitKey) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints (vehicle_id, group_id, status, updated_at)
VALUES (?, ?, 'IN_PROGRESS', ?)
ON CONFLICT (vehicle_id, group_id) DO UPDATE
SET status = 'IN_PROGRESS', updated_at = excluded.updated_at
WHERE checkpoints.status = 'PENDING'`,
		key.VehicleID, key.GroupID, s.now())
	if err != nil {
		return false, fmt.Errorf("claim checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete marks a claimed unit DONE.
func (s *CheckpointStore) Complete(ctx context.Context, key crawler.UnitKey, rows int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE checkpoints
SET status = 'DONE', attempt_count = attempt_count + 1, row_count = ?, last_error = '', updated_at = ?
WHERE vehicle_id = ? AND group_id = ? AND status = 'IN_PROGRESS'`,
		rows, s.now(), key.VehicleID, key.GroupID)
	if err != nil {
		return fmt.Errorf("complete checkpoint: %w", err)
	}
	return s.checkTransition(ctx, res, key, crawler.StatusDone)
}

// Fail marks a claimed unit FAILED.
func (s *CheckpointStore) Fail(ctx context.Context, key crawler.UnitKey, errText string) error {
	return s.finish(ctx, key, crawler.StatusFailed, errText)
}

// Release returns a claimed unit to PENDING.
func (s *CheckpointStore) Release(ctx context.Context, key crawler.UnitKey, errText string) error {
	return s.finish(ctx, key, crawler.StatusPending, errText)
}

func (s *CheckpointStore) finish(ctx context.Context, key crawler.UnitKey, to crawler.Status, errText string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE checkpoints
SET status = ?, attempt_count = attempt_count + 1, last_error = ?, updated_at = ?
WHERE vehicle_id = ? AND group_id = ? AND status = 'IN_PROGRESS'`,
		string(to), errText, s.now(), key.VehicleID, key.GroupID)
	if err != nil {
		return fmt.Errorf("%s checkpoint: %w", to, err)
	}
	return s.checkTransition(ctx, res, key, to)
}

func (s *CheckpointStore) checkTransition(ctx context.Context, res sql.Result, key crawler.UnitKey, to crawler.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	rec, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if to == crawler.StatusDone && ok && rec.Status == crawler.StatusDone {
		return nil
	}
	from := "ABSENT"
	if ok {
		from = string(rec.Status)
	}
	return fmt.Errorf("%s -> %s for %s: %w", from, to, key, crawler.ErrInvalidTransition)
}

// Reset forces the row to PENDING, creating it if needed.
func (s *CheckpointStore) Reset(ctx context.Context, key crawler.UnitKey) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints (vehicle_id, group_id, status, updated_at)
VALUES (?, ?, 'PENDING', ?)
ON CONFLICT (vehicle_id, group_id) DO UPDATE
SET status = 'PENDING', updated_at = excluded.updated_at`,
		key.VehicleID, key.GroupID, s.now())
	if err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}

// RecoverInProgress returns rows left IN_PROGRESS by a crashed run to PENDING.
func (s *CheckpointStore) RecoverInProgress(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = 'PENDING', updated_at = ? WHERE status = 'IN_PROGRESS'`, s.now())
	if err != nil {
		return 0, fmt.Errorf("recover checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover rows affected: %w", err)
	}
	return int(n), nil
}

// List returns rows ordered by key, filtered by status when set.
func (s *CheckpointStore) List(ctx context.Context, status crawler.Status) ([]crawler.CheckpointRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM checkpoints`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY vehicle_id, group_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.CheckpointRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (crawler.CheckpointRecord, error) {
	var (
		rec       crawler.CheckpointRecord
		status    string
		updatedAt string
	)
	if err := row.Scan(
		&rec.Key.VehicleID,
		&rec.Key.GroupID,
		&status,
		&rec.AttemptCount,
		&rec.LastError,
		&rec.RowCount,
		&updatedAt,
	); err != nil {
		return crawler.CheckpointRecord{}, err //nolint:wrapcheck // callers wrap with context
	}
	parsed, err := crawler.ParseStatus(status)
	if err != nil {
		return crawler.CheckpointRecord{}, err
	}
	rec.Status = parsed
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return crawler.CheckpointRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	rec.UpdatedAt = ts
	return rec, nil
}
