package export

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"sheetapp/api/internal/sheet"
)

func sampleSnapshot() sheet.Snapshot {
	return sheet.Snapshot{
		Columns: []sheet.Column{
			{ID: "c1", Name: "Task", Order: 1, Width: 200},
			{ID: "c2", Name: "Owner", Order: 2, Width: 120},
		},
		Rows: []sheet.SnapshotRow{
			{ID: "r1", Order: 1, Cells: []string{"Ship, then <celebrate>", "avery"}},
			{ID: "r2", Order: 2, Cells: []string{"Write \"docs\""}},
		},
	}
}

func TestExportCSV(t *testing.T) {
	svc := NewService()
	res, err := svc.Export(context.Background(), Request{Title: "Q3 Plan", Snapshot: sampleSnapshot(), Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Q3-Plan.csv" || !strings.HasPrefix(res.MimeType, "text/csv") {
		t.Fatalf("unexpected result meta %q %q", res.Filename, res.MimeType)
	}

	records, err := csv.NewReader(strings.NewReader(string(res.Data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	want := [][]string{
		{"Task", "Owner"},
		{"Ship, then <celebrate>", "avery"},
		{"Write \"docs\"", ""},
	}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i := range want {
		for j := range want[i] {
			if records[i][j] != want[i][j] {
				t.Errorf("record[%d][%d] = %q, want %q", i, j, records[i][j], want[i][j])
			}
		}
	}
}

func TestExportPDFRendersGridHTML(t *testing.T) {
	var gotHTML string
	svc := &Service{renderPDF: func(ctx context.Context, html, title string) (*Result, error) {
		gotHTML = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}}

	updated := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	res, err := svc.Export(context.Background(), Request{Title: "Q3 Plan", Owner: "avery", UpdatedAt: updated, Snapshot: sampleSnapshot(), Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Q3-Plan.pdf" {
		t.Fatalf("unexpected filename %q", res.Filename)
	}
	for _, want := range []string{
		"<th>Task</th>",
		"&lt;celebrate&gt;",
		"width: 200px",
		"Mar 4, 2026 10:30",
		"<td></td>",
	} {
		if !strings.Contains(gotHTML, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}
	if strings.Contains(gotHTML, "<celebrate>") {
		t.Error("cell values must be escaped")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	_, err := NewService().Export(context.Background(), Request{Format: "docx"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if Format("docx").Valid() || !FormatCSV.Valid() || !FormatPDF.Valid() {
		t.Fatal("unexpected Format.Valid result")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Simple Title", "Simple-Title"},
		{"Title with 123 numbers", "Title-with-123-numbers"},
		{"Special!@#$%Characters", "SpecialCharacters"},
		{"", "page"},
		{"This is a very long title that exceeds the maximum length limit of fifty characters", "This-is-a-very-long-title-that-exceeds-the-maximum"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := map[string]string{
		"a b":      "a%20b",
		"<p>":      "%3Cp%3E",
		"é":        "%C3%A9",
		"safe-_.~": "safe-_.~",
		"#?":       "%23%3F",
	}
	for in, want := range tests {
		if got := percentEncodeForDataURL(in); got != want {
			t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSheetValuesPadsRows(t *testing.T) {
	values := sheetValues(sampleSnapshot())
	if len(values) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(values))
	}
	if values[0][0] != "Task" || values[2][1] != "" {
		t.Fatalf("unexpected values %v", values)
	}
}

func TestFormatRequestsCopyWidths(t *testing.T) {
	reqs := formatRequests(7, sampleSnapshot())
	if len(reqs) != 4 {
		t.Fatalf("expected bold + freeze + 2 width requests, got %d", len(reqs))
	}
	width := reqs[2].UpdateDimensionProperties
	if width == nil || width.Properties.PixelSize != 200 || width.Range.SheetId != 7 || width.Range.EndIndex != 1 {
		t.Fatalf("unexpected width request %+v", width)
	}
}

func TestObjectKeyLayout(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	got := objectKey("page-1", "Plan.csv", at)
	if got != "pages/page-1/20260102T030405.006Z/Plan.csv" {
		t.Fatalf("unexpected key %q", got)
	}
	if !strings.HasPrefix(got, pagePrefix("page-1")) {
		t.Fatal("key must live under the page prefix")
	}
	if contentDisposition("a b.csv") != `attachment; filename="a b.csv"` {
		t.Fatalf("unexpected disposition %q", contentDisposition("a b.csv"))
	}
}
