package collector

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTabularWithHeader(t *testing.T) {
	page := `<html><body><table>
		<tr><th>No</th><th>IP</th><th>Country</th><th>Reason</th><th>Reg Date</th></tr>
		<tr><td>1</td><td>1.2.3.4</td><td>KR</td><td>bruteforce</td><td>2026-02-01</td></tr>
		<tr><td>2</td><td>5.6.7.8</td><td>CN</td><td>scan</td><td>2026-02-02</td></tr>
	</table></body></html>`

	records, skipped, err := Parse(RawPayload{Kind: PayloadTabular, HTML: page})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.IP != "1.2.3.4" || first.Country != "KR" || first.Reason != "bruteforce" || first.DetectionDate != "2026-02-01" {
		t.Fatalf("unexpected first record: %+v", first)
	}
}

func TestParseTabularWithoutHeaderFallsBackToShape(t *testing.T) {
	page := `<table>
		<tr><td>something</td><td>203.0.113.9</td><td>2026-02-03</td></tr>
		<tr><td>no ip in this row</td><td>still none</td></tr>
	</table>`

	records, skipped, err := Parse(RawPayload{Kind: PayloadTabular, HTML: page})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if records[0].IP != "203.0.113.9" || records[0].DetectionDate != "2026-02-03" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestParseTabularNoRowsIsParseError(t *testing.T) {
	_, _, err := Parse(RawPayload{Kind: PayloadTabular, HTML: "<html><body><p>maintenance</p></body></html>"})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if parseErr.Kind != PayloadTabular {
		t.Fatalf("error kind = %v, want tabular", parseErr.Kind)
	}
}

func TestParseStructuredEnvelope(t *testing.T) {
	body := `{"total": 2, "data": [
		{"ip": "1.2.3.4", "detection_date": "2026-02-01", "country": "US", "attack_type": "botnet"},
		{"ip": "5.6.7.8", "detection_date": "2026-02-02"},
		{"comment": "row without ip"}
	]}`

	var value any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	records, skipped, err := Parse(RawPayload{Kind: PayloadStructured, Structured: value})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}

	first := records[0]
	if first.IP != "1.2.3.4" || first.Country != "US" || first.Reason != "botnet" {
		t.Fatalf("unexpected first record: %+v", first)
	}
}

func TestParseStructuredBareArray(t *testing.T) {
	var value any
	if err := json.Unmarshal([]byte(`[{"ip": "9.9.9.9", "date": "20260201"}]`), &value); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	records, _, err := Parse(RawPayload{Kind: PayloadStructured, Structured: value})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 || records[0].IP != "9.9.9.9" || records[0].DetectionDate != "20260201" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestParseStructuredUnknownEnvelopeIsParseError(t *testing.T) {
	var value any
	if err := json.Unmarshal([]byte(`{"message": "session expired"}`), &value); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	_, _, err := Parse(RawPayload{Kind: PayloadStructured, Structured: value})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestMatchHeader(t *testing.T) {
	cols := matchHeader([]string{"No", "Attack IP", "Nation", "Type", "Detection Date"})
	if cols == nil {
		t.Fatal("header not recognized")
	}
	if cols[0] != 1 || cols[2] != 2 || cols[3] != 3 || cols[1] != 4 {
		t.Fatalf("unexpected column mapping: %v", cols)
	}

	if matchHeader([]string{"1", "1.2.3.4", "KR"}) != nil {
		t.Fatal("data row misidentified as header")
	}
}

func TestFirstIPShapedFindsEmbeddedIP(t *testing.T) {
	row := []string{"blocked traffic from 198.51.100.23 port 443", "other"}
	if got := firstIPShaped(row); got != "198.51.100.23" {
		t.Fatalf("firstIPShaped = %q, want 198.51.100.23", got)
	}
}
