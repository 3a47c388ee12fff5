package worker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

func TestParseRecords(t *testing.T) {
	t.Parallel()

	u := crawler.WorkUnit{
		VehicleID:   "pulsar-150",
		VehicleName: "Pulsar 150",
		ModelCode:   "P150",
		GroupID:     "E-12",
		GroupType:   crawler.GroupTypeEngine,
		TableNo:     "E-12",
		GroupDesc:   "CYLINDER HEAD",
		SourceURL:   "https://catalogue.example.com/dealer/",
	}
	rows := []crawler.RawRow{
		{Cells: map[string]string{
			"Ref No.":     " 1 ",
			"Part Number": "JA521001",
			"Description": "GASKET  CYLINDER\nHEAD",
			"Remark":      "",
			"Req. No.":    "2",
			"MOQ":         "1",
			"MRP(Rs.)":    "112.00",
		}},
		{Cells: map[string]string{"ref no.": "2", " part number ": "JA521002"}},
	}

	recs, err := ParseRecords(u, rows)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, crawler.PartRecord{
		VehicleID:       "pulsar-150",
		VehicleName:     "Pulsar 150",
		ModelCode:       "P150",
		GroupID:         "E-12",
		GroupType:       crawler.GroupTypeEngine,
		TableNo:         "E-12",
		GroupDesc:       "CYLINDER HEAD",
		SourceURL:       "https://catalogue.example.com/dealer/",
		ReferenceNumber: "1",
		PartNumber:      "JA521001",
		Description:     "GASKET CYLINDER HEAD",
		ReqNo:           "2",
		MOQ:             "1",
		MRP:             "112.00",
	}, recs[0])
	require.Equal(t, "JA521002", recs[1].PartNumber)
}

func TestParseRecordsValidation(t *testing.T) {
	t.Parallel()

	u := crawler.WorkUnit{VehicleID: "v", GroupID: "g"}
	tests := []struct {
		name  string
		rows  []crawler.RawRow
		row   int
		field string
	}{
		{
			name:  "missing reference",
			rows:  []crawler.RawRow{{Cells: map[string]string{"Part Number": "JA1"}}},
			row:   1,
			field: "reference_number",
		},
		{
			name: "missing part number",
			rows: []crawler.RawRow{
				{Cells: map[string]string{"Ref No.": "1", "Part Number": "JA1"}},
				{Cells: map[string]string{"Ref No.": "2", "Part Number": "  "}},
			},
			row:   2,
			field: "part_number",
		},
		{
			name: "duplicate reference",
			rows: []crawler.RawRow{
				{Cells: map[string]string{"Ref No.": "7", "Part Number": "JA1"}},
				{Cells: map[string]string{"Ref No.": "8", "Part Number": "JA2"}},
				{Cells: map[string]string{"Ref No.": "7", "Part Number": "JA3"}},
			},
			row:   3,
			field: "reference_number",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseRecords(u, tc.rows)
			var parseErr *crawler.ParseValidationError
			require.ErrorAs(t, err, &parseErr)
			require.Equal(t, tc.row, parseErr.Row)
			require.Equal(t, tc.field, parseErr.Field)
		})
	}
}

func TestParseRecordsEmptyTable(t *testing.T) {
	t.Parallel()

	recs, err := ParseRecords(crawler.WorkUnit{VehicleID: "v", GroupID: "g"}, nil)
	require.NoError(t, err)
	require.Empty(t, recs)
}
