package browser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestParseInfoTotal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"Showing 1 to 25 of 37 entries", 37, true},
		{"showing 1 to 10 OF 1,092 ENTRIES", 1092, true},
		{"Showing 0 to 0 of 0 entries", 0, true},
		{"Showing 1 to 25 of 37 entries (filtered from 90 total entries)", 37, true},
		{"", 0, false},
		{"No data available in table", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseInfoTotal(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pulsar-150-neon", Slugify("  PULSAR 150 (Neon) "))
	require.Equal(t, "splendor-i3s", Slugify("Splendor+ i3S"))
	require.Equal(t, "xtreme-160r-4v", Slugify("Xtreme 160R  4V"))
	require.Equal(t, "creme-brulee", Slugify("Crème Brûlée"))
	long := Slugify(strings.Repeat("abcdefghi ", 10))
	require.LessOrEqual(t, len(long), 50)
	require.False(t, strings.HasSuffix(long, "-"))
}

func TestInferGroupType(t *testing.T) {
	t.Parallel()

	require.Equal(t, crawler.GroupTypeEngine, InferGroupType("E-1", "", crawler.GroupTypeFrame))
	require.Equal(t, crawler.GroupTypeFrame, InferGroupType("", "f-12_HA11", crawler.GroupTypeEngine))
	require.Equal(t, crawler.GroupTypeFrame, InferGroupType("X-2", "X-2_1", crawler.GroupTypeFrame))
}

const catalogueHTML = `<html><body>
<table id="datatable-t2"><tbody>
<tr>
 <td><div class="panel"><div class="panel-heading" onclick="loadModelAggregates('', 'HA11')"> Pulsar 150 </div></div></td>
 <td><div class="panel"><div class="panel-heading" onclick="loadModelAggregates('', 'HB22')">Splendor Plus</div></div></td>
 <td><div class="panel"><div class="panel-heading" onclick="loadModelAggregates('', 'HA11')">Pulsar 150 duplicate</div></div></td>
</tr>
<tr>
 <td><div class="panel"><div class="panel-heading" onclick="loadModelAggregates('', 'HC33')"></div></div></td>
 <td><div class="panel"><div class="panel-heading" onclick="somethingElse()">Glamour</div></div></td>
</tr>
</tbody></table>
<div id="datatable-t2_info">Showing 1 to 5 of 5 entries</div>
</body></html>`

func TestParseVehicles(t *testing.T) {
	t.Parallel()

	got := ParseVehicles(mustDoc(t, catalogueHTML), "https://catalogue.example/")
	require.Equal(t, []crawler.VehicleRef{
		{VehicleID: "pulsar-150", VehicleName: "Pulsar 150", ModelCode: "HA11", SourceURL: "https://catalogue.example/"},
		{VehicleID: "splendor-plus", VehicleName: "Splendor Plus", ModelCode: "HB22", SourceURL: "https://catalogue.example/"},
	}, got)
}

const listViewHTML = `<html><body>
<table id="DataTables_Table_0"><tbody>
<tr><td>1</td><td><a onclick="updateBomDetails('E-1_HA11', '', 'DRUM')">E-1</a></td><td>CYLINDER HEAD</td><td class="group-no-td" group-no="E-1_HA11"></td></tr>
<tr><td>2</td><td><a>E-2</a></td><td>CLUTCH</td><td class="group-no-td" group-no=" E-2_HA11 "></td></tr>
<tr><td>3</td><td>E-3</td><td>NO CODE</td><td class="group-no-td"></td></tr>
</tbody></table>
<table id="DataTables_Table_1"><tbody>
<tr><td>1</td><td><a>F-1</a></td><td>FRAME BODY</td><td class="group-no-td" group-no="F-1_HA11"></td></tr>
</tbody></table>
<table id="DataTables_Table_2"><tbody>
<tr><td><div class="panel-heading"><a onclick="updateBomDetails('E-9_HA11', '', '')">E-9 (IGNORED)</a></div></td></tr>
</tbody></table>
</body></html>`

func TestParseGroupsListView(t *testing.T) {
	t.Parallel()

	got := ParseGroups(mustDoc(t, listViewHTML))
	require.Equal(t, []crawler.GroupRef{
		{GroupID: "E-1_HA11", GroupType: crawler.GroupTypeEngine, TableNo: "E-1", GroupDesc: "CYLINDER HEAD", Variant: "DRUM"},
		{GroupID: "E-2_HA11", GroupType: crawler.GroupTypeEngine, TableNo: "E-2", GroupDesc: "CLUTCH"},
		{GroupID: "F-1_HA11", GroupType: crawler.GroupTypeFrame, TableNo: "F-1", GroupDesc: "FRAME BODY"},
	}, got)
}

const thumbnailHTML = `<html><body>
<table id="DataTables_Table_0"><tbody></tbody></table>
<table id="DataTables_Table_2"><tbody>
<tr><td><div class="panel-heading"><a onclick="updateBomDetails('E-1_HA11', '', 'DISC')">E-1 (SHROUD / FAN COVER)</a></div></td></tr>
<tr><td><div class="panel-heading"><a onclick="noop()">E-2 (NO CODE)</a></div></td></tr>
</tbody></table>
<table id="DataTables_Table_3"><tbody>
<tr><td><div class="panel-heading"><a onclick="updateBomDetails('F-1_HA11', '', '')">F-1 (FRAME BODY)</a></div></td></tr>
</tbody></table>
</body></html>`

func TestParseGroupsThumbnailFallback(t *testing.T) {
	t.Parallel()

	got := ParseGroups(mustDoc(t, thumbnailHTML))
	require.Equal(t, []crawler.GroupRef{
		{GroupID: "E-1_HA11", GroupType: crawler.GroupTypeEngine, TableNo: "E-1", GroupDesc: "SHROUD / FAN COVER", Variant: "DISC"},
		{GroupID: "F-1_HA11", GroupType: crawler.GroupTypeFrame, TableNo: "F-1", GroupDesc: "FRAME BODY"},
	}, got)
}

const partsHTML = `<table id="bomPage">
<thead><tr><th>Ref No.</th><th>Part Number</th><th>Description</th><th>Remark</th><th>Req. No.</th><th>MOQ</th><th>MRP(Rs.)</th></tr></thead>
<tbody>
<tr><td>1</td><td>JA521001</td><td> GASKET,
  CYLINDER HEAD </td><td></td><td>1</td><td>1</td><td>112.00</td></tr>
<tr><td>2</td><td>JA521002</td><td>BOLT</td><td>M6</td><td>4</td></tr>
</tbody></table>`

func TestParsePartsTable(t *testing.T) {
	t.Parallel()

	rows, err := ParsePartsTable(mustDoc(t, partsHTML))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "GASKET, CYLINDER HEAD", rows[0].Cells["Description"])
	require.Equal(t, "112.00", rows[0].Cells["MRP(Rs.)"])
	require.Equal(t, "M6", rows[1].Cells["Remark"])
	_, ok := rows[1].Cells["MOQ"]
	require.False(t, ok)
}

func TestParsePartsTableEmptyAndMissing(t *testing.T) {
	t.Parallel()

	empty := `<table id="bomPage"><thead><tr><th>Ref No.</th></tr></thead>
<tbody><tr><td class="dataTables_empty" colspan="7">No data available in table</td></tr></tbody></table>`
	rows, err := ParsePartsTable(mustDoc(t, empty))
	require.NoError(t, err)
	require.Empty(t, rows)

	_, err = ParsePartsTable(mustDoc(t, `<div>nothing</div>`))
	require.Error(t, err)

	_, err = ParsePartsTable(mustDoc(t, `<table id="bomPage"><tbody><tr><td>1</td></tr></tbody></table>`))
	require.Error(t, err)
}
