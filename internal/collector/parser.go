package collector

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

var ipShapedRegex = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)

// Column names the portals have been observed to use, lowercased. Field
// discovery tries these before falling back to shape-based guessing.
var (
	ipColumnNames      = []string{"ip", "ip address", "ipaddress", "attack ip", "attacker ip", "source ip"}
	dateColumnNames    = []string{"date", "detection date", "detected", "reg date", "regdate", "created", "first seen"}
	countryColumnNames = []string{"country", "nation", "geo", "country code"}
	reasonColumnNames  = []string{"reason", "category", "type", "attack type", "threat type", "description"}
)

// Parse turns one tagged payload into raw records. Rows that cannot be
// interpreted are skipped and counted; only a payload whose overall shape is
// unrecognized yields a ParseError.
func Parse(payload RawPayload) ([]RawRecord, int, error) {
	switch payload.Kind {
	case PayloadTabular:
		return parseTabular(payload.HTML)
	case PayloadSpreadsheet:
		return parseSpreadsheet(payload.Spreadsheet)
	case PayloadStructured:
		return parseStructured(payload.Structured)
	default:
		return nil, 0, &ParseError{Kind: payload.Kind, Err: errors.New("unknown payload kind")}
	}
}

/* ── tabular (HTML) ──────────────────────────────────────────────────── */

func parseTabular(page string) ([]RawRecord, int, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, 0, &ParseError{Kind: PayloadTabular, Err: err}
	}

	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			if cells := extractCells(n); len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(rows) == 0 {
		return nil, 0, &ParseError{Kind: PayloadTabular, Err: errors.New("no table rows found")}
	}

	return rowsToRecords(rows, PayloadTabular)
}

func extractCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, strings.TrimSpace(nodeText(c)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

/* ── spreadsheet (xlsx) ──────────────────────────────────────────────── */

func parseSpreadsheet(data []byte) ([]RawRecord, int, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, &ParseError{Kind: PayloadSpreadsheet, Err: err}
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, &ParseError{Kind: PayloadSpreadsheet, Err: errors.New("workbook has no sheets")}
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, 0, &ParseError{Kind: PayloadSpreadsheet, Err: err}
	}
	if len(rows) == 0 {
		return nil, 0, &ParseError{Kind: PayloadSpreadsheet, Err: errors.New("sheet is empty")}
	}

	return rowsToRecords(rows, PayloadSpreadsheet)
}

/* ── structured (JSON) ───────────────────────────────────────────────── */

func parseStructured(value any) ([]RawRecord, int, error) {
	items, err := structuredItems(value)
	if err != nil {
		return nil, 0, &ParseError{Kind: PayloadStructured, Err: err}
	}

	var records []RawRecord
	skipped := 0
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}

		record := RawRecord{
			IP:            firstStringField(obj, ipColumnNames),
			DetectionDate: firstStringField(obj, dateColumnNames),
			Country:       firstStringField(obj, countryColumnNames),
			Reason:        firstStringField(obj, reasonColumnNames),
		}
		if record.IP == "" {
			skipped++
			continue
		}
		records = append(records, record)
	}

	return records, skipped, nil
}

// structuredItems unwraps the usual API envelopes: a bare array, or an
// object holding the array under a well-known key.
func structuredItems(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"data", "list", "rows", "items", "results", "blacklist"} {
			if inner, ok := v[key]; ok {
				if items, ok := inner.([]any); ok {
					return items, nil
				}
			}
		}
		return nil, errors.New("no record array found in response object")
	default:
		return nil, fmt.Errorf("unexpected JSON shape %T", value)
	}
}

func firstStringField(obj map[string]any, names []string) string {
	for key, value := range obj {
		lower := strings.ToLower(strings.ReplaceAll(key, "_", " "))
		for _, name := range names {
			if lower == name {
				if s, ok := value.(string); ok {
					return strings.TrimSpace(s)
				}
				return strings.TrimSpace(fmt.Sprint(value))
			}
		}
	}
	return ""
}

/* ── shared row handling ─────────────────────────────────────────────── */

// rowsToRecords maps tabular rows to records. When the first row looks like
// a header its column names drive the extraction; otherwise each row falls
// back to the first IP-shaped cell.
func rowsToRecords(rows [][]string, kind PayloadKind) ([]RawRecord, int, error) {
	ipCol, dateCol, countryCol, reasonCol := -1, -1, -1, -1
	start := 0

	if cols := matchHeader(rows[0]); cols != nil {
		ipCol, dateCol, countryCol, reasonCol = cols[0], cols[1], cols[2], cols[3]
		start = 1
	}

	var records []RawRecord
	skipped := 0

	for _, row := range rows[start:] {
		record := RawRecord{}

		if ipCol >= 0 && ipCol < len(row) {
			record.IP = strings.TrimSpace(row[ipCol])
		}
		if record.IP == "" || net.ParseIP(record.IP) == nil {
			record.IP = firstIPShaped(row)
		}
		if record.IP == "" {
			skipped++
			continue
		}

		if dateCol >= 0 && dateCol < len(row) {
			record.DetectionDate = strings.TrimSpace(row[dateCol])
		} else {
			record.DetectionDate = firstDateShaped(row, record.IP)
		}
		if countryCol >= 0 && countryCol < len(row) {
			record.Country = strings.TrimSpace(row[countryCol])
		}
		if reasonCol >= 0 && reasonCol < len(row) {
			record.Reason = strings.TrimSpace(row[reasonCol])
		}

		records = append(records, record)
	}

	if len(records) == 0 && skipped == 0 {
		return nil, 0, &ParseError{Kind: kind, Err: errors.New("no extractable rows")}
	}

	return records, skipped, nil
}

func matchHeader(row []string) []int {
	cols := []int{-1, -1, -1, -1}
	matched := false

	for idx, cell := range row {
		lower := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(cell, "_", " ")))
		switch {
		case cols[0] < 0 && containsName(lower, ipColumnNames):
			cols[0] = idx
			matched = true
		case cols[1] < 0 && containsName(lower, dateColumnNames):
			cols[1] = idx
			matched = true
		case cols[2] < 0 && containsName(lower, countryColumnNames):
			cols[2] = idx
			matched = true
		case cols[3] < 0 && containsName(lower, reasonColumnNames):
			cols[3] = idx
			matched = true
		}
	}

	if !matched {
		return nil
	}
	return cols
}

func containsName(cell string, names []string) bool {
	for _, name := range names {
		if cell == name {
			return true
		}
	}
	return false
}

func firstIPShaped(row []string) string {
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if net.ParseIP(cell) != nil {
			return cell
		}
		if match := ipShapedRegex.FindString(cell); match != "" {
			return match
		}
	}
	return ""
}

// firstDateShaped scans for a cell that normalizes as a date, skipping the
// cell already claimed as the IP.
func firstDateShaped(row []string, ip string) string {
	for _, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" || cell == ip {
			continue
		}
		if _, err := parseDetectionDate(cell); err == nil {
			return cell
		}
	}
	return ""
}
