package browser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

const maxSlugLen = 50

var (
	infoTotalRe   = regexp.MustCompile(`(?i)of\s+([\d,]+)\s+entries`)
	modelCodeRe   = regexp.MustCompile(`loadModelAggregates\(\s*''\s*,\s*'([^']+)'\s*\)`)
	groupCodeRe   = regexp.MustCompile(`updateBomDetails\(\s*'([^']+)'`)
	variantRe     = regexp.MustCompile(`updateBomDetails\(\s*'[^']*'\s*,\s*''\s*,\s*'([^']*)'\s*\)`)
	thumbTitleRe  = regexp.MustCompile(`^([^ \t(]+)\s*\((.*)\)\s*$`)
	nonSlugRunsRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// ParseInfoTotal extracts N from a DataTables counter such as
// "Showing 1 to 25 of 37 entries".
func ParseInfoTotal(text string) (int, bool) {
	m := infoTotalRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Slugify turns a vehicle name into a lowercase, dash-separated identifier of
// at most 50 characters. Accents are folded to their base letters.
func Slugify(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	slug := strings.Trim(nonSlugRunsRe.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// InferGroupType decides ENGINE or FRAME from the row's own table number or
// group code, falling back to the table the row was listed in.
func InferGroupType(tableNo, groupCode, fallback string) string {
	tn := strings.ToUpper(strings.TrimSpace(tableNo))
	gc := strings.ToUpper(strings.TrimSpace(groupCode))
	switch {
	case strings.HasPrefix(tn, "E-"), strings.HasPrefix(gc, "E-"):
		return crawler.GroupTypeEngine
	case strings.HasPrefix(tn, "F-"), strings.HasPrefix(gc, "F-"):
		return crawler.GroupTypeFrame
	default:
		return fallback
	}
}

// ParseVehicles reads the vehicle cards of the catalogue landing page.
// Cards without a name or model code are dropped, as are repeated model codes.
func ParseVehicles(doc *goquery.Document, catalogueURL string) []crawler.VehicleRef {
	var (
		out  []crawler.VehicleRef
		seen = make(map[string]bool)
	)
	doc.Find(`#datatable-t2 .panel .panel-heading[onclick*="loadModelAggregates"]`).Each(func(_ int, s *goquery.Selection) {
		name := cleanText(s.Text())
		onclick, _ := s.Attr("onclick")
		code := firstGroup(modelCodeRe, onclick)
		if name == "" || code == "" || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, crawler.VehicleRef{
			VehicleID:   Slugify(name),
			VehicleName: name,
			ModelCode:   code,
			SourceURL:   catalogueURL,
		})
	})
	return out
}

// ParseGroups reads the engine and frame group listings for a vehicle. The
// list view is preferred; the thumbnail view is used when the list is empty.
func ParseGroups(doc *goquery.Document) []crawler.GroupRef {
	groups := append(
		parseListView(doc.Find("#DataTables_Table_0"), crawler.GroupTypeEngine),
		parseListView(doc.Find("#DataTables_Table_1"), crawler.GroupTypeFrame)...,
	)
	if len(groups) > 0 {
		return groups
	}
	return append(
		parseThumbnails(doc.Find("#DataTables_Table_2"), crawler.GroupTypeEngine),
		parseThumbnails(doc.Find("#DataTables_Table_3"), crawler.GroupTypeFrame)...,
	)
}

func parseListView(table *goquery.Selection, fallback string) []crawler.GroupRef {
	var out []crawler.GroupRef
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		code, _ := tr.Find("td.group-no-td").Attr("group-no")
		code = strings.TrimSpace(code)
		if code == "" {
			return
		}
		tds := tr.Find("td")
		tableNo := cleanText(tds.Eq(1).Text())
		onclick, _ := tds.Eq(1).Find("a").Attr("onclick")
		out = append(out, crawler.GroupRef{
			GroupID:   code,
			GroupType: InferGroupType(tableNo, code, fallback),
			TableNo:   tableNo,
			GroupDesc: cleanText(tds.Eq(2).Text()),
			Variant:   firstGroup(variantRe, onclick),
		})
	})
	return out
}

func parseThumbnails(table *goquery.Selection, fallback string) []crawler.GroupRef {
	var out []crawler.GroupRef
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		link := tr.Find(".panel-heading a").First()
		if link.Length() == 0 {
			link = tr.Find(".panel-heading").First()
		}
		onclick, _ := link.Attr("onclick")
		code := firstGroup(groupCodeRe, onclick)
		if code == "" {
			return
		}
		text := cleanText(link.Text())
		tableNo, desc := text, ""
		if m := thumbTitleRe.FindStringSubmatch(text); m != nil {
			tableNo, desc = m[1], m[2]
		}
		out = append(out, crawler.GroupRef{
			GroupID:   code,
			GroupType: InferGroupType(tableNo, code, fallback),
			TableNo:   tableNo,
			GroupDesc: desc,
			Variant:   firstGroup(variantRe, onclick),
		})
	})
	return out
}

// ParsePartsTable returns the rendered rows of the #bomPage table keyed by
// header text. The DataTables placeholder row of an empty table is skipped.
func ParsePartsTable(doc *goquery.Document) ([]crawler.RawRow, error) {
	table := doc.Find("#bomPage").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("parts table #bomPage not found")
	}
	var headers []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, cleanText(th.Text()))
	})
	if len(headers) == 0 {
		return nil, fmt.Errorf("parts table has no header row")
	}

	var rows []crawler.RawRow
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() == 0 || tds.HasClass("dataTables_empty") {
			return
		}
		cells := make(map[string]string, len(headers))
		tds.Each(func(i int, td *goquery.Selection) {
			if i < len(headers) {
				cells[headers[i]] = cleanText(td.Text())
			}
		})
		rows = append(rows, crawler.RawRow{Cells: cells})
	})
	return rows, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
