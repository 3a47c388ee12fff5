package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

var partColumns = []string{
	"vehicle_id",
	"vehicle_name",
	"model_code",
	"group_id",
	"group_type",
	"table_no",
	"group_desc",
	"reference_number",
	"part_number",
	"description",
	"remark",
	"req_no",
	"mrp",
	"moq",
	"image_path",
	"parts_page_url",
	"source_url",
}

// partRow lays r out in partColumns order.
func partRow(r crawler.PartRecord) []any {
	return []any{
		r.VehicleID,
		r.VehicleName,
		r.ModelCode,
		r.GroupID,
		r.GroupType,
		r.TableNo,
		r.GroupDesc,
		r.ReferenceNumber,
		r.PartNumber,
		r.Description,
		r.Remark,
		r.ReqNo,
		r.MRP,
		r.MOQ,
		r.ImagePath,
		r.PartsPageURL,
		r.SourceURL,
	}
}

// PartsStore writes part records into Postgres, replacing a unit's rows atomically.
type PartsStore struct {
	pool  Pool
	table string
}

// NewPartsStore wraps pool. An empty table defaults to "parts".
func NewPartsStore(pool Pool, table string) (*PartsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "parts")
	if err != nil {
		return nil, err
	}
	return &PartsStore{pool: pool, table: table}, nil
}

// ReplaceUnit deletes the unit's rows and copies records in one transaction.
func (s *PartsStore) ReplaceUnit(ctx context.Context, key crawler.UnitKey, records []crawler.PartRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("parts store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin parts tx: %w", err)
	}
	if err := s.replace(ctx, tx, key, records); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit parts tx: %w", err)
	}
	return nil
}

func (s *PartsStore) replace(ctx context.Context, tx pgx.Tx, key crawler.UnitKey, records []crawler.PartRecord) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE vehicle_id = $1 AND group_id = $2`, s.table)
	if _, err := tx.Exec(ctx, query, key.VehicleID, key.GroupID); err != nil {
		return fmt.Errorf("delete unit parts: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		if r.Key() != key {
			return fmt.Errorf("record %s does not belong to unit %s", r.Key(), key)
		}
		rows = append(rows, partRow(r))
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, partColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy unit parts: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copied %d of %d parts", n, len(records))
	}
	return nil
}
