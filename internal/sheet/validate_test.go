package sheet

import (
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func validPayload() Payload {
	return Payload{
		Columns: []ColumnInput{
			{ID: strPtr("col-a"), Name: "A", Order: 1, Width: intPtr(150)},
			{Name: "B", Order: 2},
		},
		Rows: []RowInput{
			{ID: strPtr("row-1"), Order: 1, Cells: []string{"x", "y"}},
			{Order: 2, Cells: []string{"", ""}},
		},
	}
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	if err := Validate(validPayload()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateAcceptsEmptyRows(t *testing.T) {
	p := validPayload()
	p.Rows = nil
	if err := Validate(p); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Payload)
		field   string
		message string
	}{
		{
			name:    "no columns",
			mutate:  func(p *Payload) { p.Columns = nil; p.Rows = nil },
			field:   "columns",
			message: "Page must have at least one column.",
		},
		{
			name:    "duplicate column order",
			mutate:  func(p *Payload) { p.Columns[1].Order = 1 },
			field:   "columns",
			message: "Column orders must be unique and sequential from 1 to N. Received orders: [1 1]",
		},
		{
			name:    "gap in column order",
			mutate:  func(p *Payload) { p.Columns[1].Order = 3 },
			field:   "columns",
			message: "Column orders must be unique and sequential",
		},
		{
			name:    "case-insensitive duplicate names",
			mutate:  func(p *Payload) { p.Columns[1].Name = " a " },
			field:   "columns",
			message: "Column names must be unique (case-insensitive).",
		},
		{
			name:    "blank name",
			mutate:  func(p *Payload) { p.Columns[0].Name = "   " },
			field:   "columns[0].name",
			message: "may not be blank",
		},
		{
			name:    "long name",
			mutate:  func(p *Payload) { p.Columns[0].Name = strings.Repeat("n", 101) },
			field:   "columns[0].name",
			message: "no more than 100 characters",
		},
		{
			name:    "narrow column",
			mutate:  func(p *Payload) { p.Columns[0].Width = intPtr(9) },
			field:   "columns[0].width",
			message: "between 10 and 2000",
		},
		{
			name:    "repeated column id",
			mutate:  func(p *Payload) { p.Columns[1].ID = strPtr("col-a") },
			field:   "columns[1].id",
			message: "appears more than once",
		},
		{
			name:    "cell count mismatch",
			mutate:  func(p *Payload) { p.Rows[1].Cells = []string{"only"} },
			field:   "rows[1].cells",
			message: "Incorrect number of cells. Expected 2, got 1.",
		},
		{
			name:    "row order gap",
			mutate:  func(p *Payload) { p.Rows[1].Order = 5 },
			field:   "rows",
			message: "Row orders must be unique and sequential from 1 to N. Received orders: [1 5]",
		},
		{
			name:    "long commit message",
			mutate:  func(p *Payload) { p.CommitMessage = strPtr(strings.Repeat("m", 501)) },
			field:   "commit_message",
			message: "no more than 500 characters",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPayload()
			tc.mutate(&p)
			err := Validate(p)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			messages := verr.Fields[tc.field]
			if len(messages) == 0 {
				t.Fatalf("expected error on %q, got %v", tc.field, verr.Fields)
			}
			found := false
			for _, m := range messages {
				if strings.Contains(m, tc.message) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %q in %v", tc.message, messages)
			}
		})
	}
}

func TestPayloadMessageDefaults(t *testing.T) {
	p := Payload{}
	if got := p.Message(); got != DefaultCommitMessage {
		t.Fatalf("Message() = %q", got)
	}
	p.CommitMessage = strPtr("  ")
	if got := p.Message(); got != DefaultCommitMessage {
		t.Fatalf("blank Message() = %q", got)
	}
	p.CommitMessage = strPtr("rename columns")
	if got := p.Message(); got != "rename columns" {
		t.Fatalf("Message() = %q", got)
	}
}
