package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// CheckpointStore keeps checkpoints in Postgres. Each call is one statement.
type CheckpointStore struct {
	pool  Pool
	table string
	clock crawler.Clock
}

// NewCheckpointStore wraps pool. An empty table defaults to "checkpoints".
func NewCheckpointStore(pool Pool, table string, clk crawler.Clock) (*CheckpointStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "checkpoints")
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &CheckpointStore{pool: pool, table: table, clock: clk}, nil
}

// Close releases the pool.
func (s *CheckpointStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Register inserts a PENDING row unless one exists.
func (s *CheckpointStore) Register(ctx context.Context, key crawler.UnitKey) error {
	query := fmt.Sprintf(`
INSERT INTO %s (vehicle_id, group_id, status, updated_at)
VALUES ($1, $2, 'PENDING', $3)
ON CONFLICT (vehicle_id, group_id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, key.VehicleID, key.GroupID, s.clock.Now()); err != nil {
		return fmt.Errorf("register checkpoint: %w", err)
	}
	return nil
}

// Get loads the row for key.
func (s *CheckpointStore) Get(ctx context.Context, key crawler.UnitKey) (crawler.CheckpointRecord, bool, error) {
	query := fmt.Sprintf(`
SELECT vehicle_id, group_id, status, attempt_count, last_error, row_count, updated_at
FROM %s WHERE vehicle_id = $1 AND group_id = $2`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, key.VehicleID, key.GroupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CheckpointRecord{}, false, nil
	}
	if err != nil {
		return crawler.CheckpointRecord{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	return rec, true, nil
}

// Claim upserts IN_PROGRESS when the row is absent or PENDING. The row lock
// taken by ON CONFLICT makes concurrent claims mutually exclusive.
func (s *CheckpointStore) Claim(ctx context.Context, key crawler.UnitKey) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (vehicle_id, group_id, status, updated_at)
VALUES ($1, $2, 'IN_PROGRESS', $3)
ON CONFLICT (vehicle_id, group_id) DO UPDATE
SET status = 'IN_PROGRESS', updated_at = EXCLUDED.updated_at
WHERE %[1]s.status = 'PENDING'`, s.table)
	tag, err := s.pool.Exec(ctx, query, key.VehicleID, key.GroupID, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("claim checkpoint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a claimed unit DONE.
func (s *CheckpointStore) Complete(ctx context.Context, key crawler.UnitKey, rows int) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'DONE', attempt_count = attempt_count + 1, row_count = $1, last_error = '', updated_at = $2
WHERE vehicle_id = $3 AND group_id = $4 AND status = 'IN_PROGRESS'`, s.table)
	tag, err := s.pool.Exec(ctx, query, rows, s.clock.Now(), key.VehicleID, key.GroupID)
	if err != nil {
		return fmt.Errorf("complete checkpoint: %w", err)
	}
	return s.checkTransition(ctx, tag, key, crawler.StatusDone)
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
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, attempt_count = attempt_count + 1, last_error = $2, updated_at = $3
WHERE vehicle_id = $4 AND group_id = $5 AND status = 'IN_PROGRESS'`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(to), errText, s.clock.Now(), key.VehicleID, key.GroupID)
	if err != nil {
		return fmt.Errorf("%s checkpoint: %w", to, err)
	}
	return s.checkTransition(ctx, tag, key, to)
}

func (s *CheckpointStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, key crawler.UnitKey, to crawler.Status) error {
	if tag.RowsAffected() == 1 {
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
	query := fmt.Sprintf(`
INSERT INTO %s (vehicle_id, group_id, status, updated_at)
VALUES ($1, $2, 'PENDING', $3)
ON CONFLICT (vehicle_id, group_id) DO UPDATE
SET status = 'PENDING', updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key.VehicleID, key.GroupID, s.clock.Now()); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}

// RecoverInProgress returns rows left IN_PROGRESS by a crashed run to PENDING.
func (s *CheckpointStore) RecoverInProgress(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = 'PENDING', updated_at = $1 WHERE status = 'IN_PROGRESS'`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recover checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// List returns rows ordered by key, filtered by status when set.
func (s *CheckpointStore) List(ctx context.Context, status crawler.Status) ([]crawler.CheckpointRecord, error) {
	query := fmt.Sprintf(`
SELECT vehicle_id, group_id, status, attempt_count, last_error, row_count, updated_at
FROM %s`, s.table)
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY vehicle_id, group_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

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

func scanRecord(row pgx.Row) (crawler.CheckpointRecord, error) {
	var (
		rec    crawler.CheckpointRecord
		status string
	)
	if err := row.Scan(
		&rec.Key.VehicleID,
		&rec.Key.GroupID,
		&status,
		&rec.AttemptCount,
		&rec.LastError,
		&rec.RowCount,
		&rec.UpdatedAt,
	); err != nil {
		return crawler.CheckpointRecord{}, err //nolint:wrapcheck // callers wrap with context
	}
	parsed, err := crawler.ParseStatus(status)
	if err != nil {
		return crawler.CheckpointRecord{}, err
	}
	rec.Status = parsed
	return rec, nil
}
