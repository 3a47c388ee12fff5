package local

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

var csvHeader = []string{
	"vehicle_id",
	"vehicle_name",
	"model_code",
	"group_type",
	"table_no",
	"group_id",
	"group_desc",
	"reference_number",
	"part_number",
	"description",
	"remark",
	"req_no",
	"moq",
	"mrp",
	"image_path",
	"parts_page_url",
	"source_url",
}

// requiredColumns must be present when reading an existing file. Descriptive
// columns added later read as empty from files written without them.
var requiredColumns = []string{
	"vehicle_id",
	"group_type",
	"table_no",
	"group_id",
	"reference_number",
	"part_number",
}

// CSVStore maintains a single master CSV of part records. Each ReplaceUnit
// rewrites the file with the unit's previous rows swapped for the new ones.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

// NewCSVStore returns a store writing to path. The file is created on first write.
func NewCSVStore(path string) (*CSVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	return &CSVStore{path: path}, nil
}

// Path returns the CSV location.
func (s *CSVStore) Path() string {
	return s.path
}

// ReplaceUnit drops every row of key and appends records.
func (s *CSVStore) ReplaceUnit(_ context.Context, key crawler.UnitKey, records []crawler.PartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked()
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, r := range existing {
		if r.Key() != key {
			kept = append(kept, r)
		}
	}
	for _, r := range records {
		if r.Key() != key {
			return fmt.Errorf("record %s does not belong to unit %s", r.Key(), key)
		}
	}
	kept = append(kept, records...)

	return writeAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, r := range kept {
			if err := cw.Write(toRow(r)); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// ReadAll returns every record in file order.
func (s *CSVStore) ReadAll() ([]crawler.PartRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *CSVStore) readLocked() ([]crawler.PartRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("csv %s is missing column %q", s.path, col)
		}
	}

	var out []crawler.PartRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		out = append(out, crawler.PartRecord{
			VehicleID:       get("vehicle_id"),
			VehicleName:     get("vehicle_name"),
			ModelCode:       get("model_code"),
			GroupType:       get("group_type"),
			TableNo:         get("table_no"),
			GroupID:         get("group_id"),
			GroupDesc:       get("group_desc"),
			ReferenceNumber: get("reference_number"),
			PartNumber:      get("part_number"),
			Description:     get("description"),
			Remark:          get("remark"),
			ReqNo:           get("req_no"),
			MOQ:             get("moq"),
			MRP:             get("mrp"),
			ImagePath:       get("image_path"),
			PartsPageURL:    get("parts_page_url"),
			SourceURL:       get("source_url"),
		})
	}
	return out, nil
}

func toRow(r crawler.PartRecord) []string {
	return []string{
		r.VehicleID,
		r.VehicleName,
		r.ModelCode,
		r.GroupType,
		r.TableNo,
		r.GroupID,
		r.GroupDesc,
		r.ReferenceNumber,
		r.PartNumber,
		r.Description,
		r.Remark,
		r.ReqNo,
		r.MOQ,
		r.MRP,
		r.ImagePath,
		r.PartsPageURL,
		r.SourceURL,
	}
}
