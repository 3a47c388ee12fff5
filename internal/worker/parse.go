package worker

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Column headers rendered by the parts table.
const (
	HeaderRefNo       = "Ref No."
	HeaderPartNumber  = "Part Number"
	HeaderDescription = "Description"
	HeaderRemark      = "Remark"
	HeaderReqNo       = "Req. No."
	HeaderMOQ         = "MOQ"
	HeaderMRP         = "MRP(Rs.)"
)

// ParseRecords validates raw rows into part records for unit. Reference and
// part number are required; a repeated reference number is rejected rather
// than merged.
func ParseRecords(unit crawler.WorkUnit, rows []crawler.RawRow) ([]crawler.PartRecord, error) {
	records := make([]crawler.PartRecord, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		rowNo := i + 1
		rec := crawler.PartRecord{
			VehicleID:       unit.VehicleID,
			VehicleName:     unit.VehicleName,
			ModelCode:       unit.ModelCode,
			GroupID:         unit.GroupID,
			GroupType:       unit.GroupType,
			TableNo:         unit.TableNo,
			GroupDesc:       unit.GroupDesc,
			SourceURL:       unit.SourceURL,
			ReferenceNumber: cell(row, HeaderRefNo),
			PartNumber:      cell(row, HeaderPartNumber),
			Description:     cell(row, HeaderDescription),
			Remark:          cell(row, HeaderRemark),
			ReqNo:           cell(row, HeaderReqNo),
			MOQ:             cell(row, HeaderMOQ),
			MRP:             cell(row, HeaderMRP),
		}
		if rec.ReferenceNumber == "" {
			return nil, &crawler.ParseValidationError{Row: rowNo, Field: "reference_number", Reason: "is empty"}
		}
		if rec.PartNumber == "" {
			return nil, &crawler.ParseValidationError{Row: rowNo, Field: "part_number", Reason: "is empty"}
		}
		if first, dup := seen[rec.ReferenceNumber]; dup {
			return nil, &crawler.ParseValidationError{
				Row:    rowNo,
				Field:  "reference_number",
				Reason: fmt.Sprintf("%q duplicates row %d", rec.ReferenceNumber, first),
			}
		}
		seen[rec.ReferenceNumber] = rowNo
		records = append(records, rec)
	}
	return records, nil
}

// cell looks a header up exactly, then by trimmed case-insensitive match.
func cell(row crawler.RawRow, header string) string {
	if v, ok := row.Cells[header]; ok {
		return strings.Join(strings.Fields(v), " ")
	}
	for k, v := range row.Cells {
		if strings.EqualFold(strings.TrimSpace(k), header) {
			return strings.Join(strings.Fields(v), " ")
		}
	}
	return ""
}
