package sheet

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ValidationError carries field-level messages keyed like "columns[0].name".
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid payload"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+strings.Join(e.Fields[key], " "))
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validate checks a payload in isolation, before any state is loaded.
func Validate(p Payload) error {
	verr := &ValidationError{}

	if len(p.Columns) == 0 {
		verr.Add("columns", "Page must have at least one column.")
	}

	names := make(map[string]struct{}, len(p.Columns))
	duplicateName := false
	columnIDs := make(map[string]struct{}, len(p.Columns))
	orders := make([]int, 0, len(p.Columns))
	for i, col := range p.Columns {
		field := fmt.Sprintf("columns[%d]", i)
		name := trim(col.Name)
		switch {
		case name == "":
			verr.Add(field+".name", "This field may not be blank.")
		case utf8.RuneCountInString(name) > MaxColumnNameLength:
			verr.Add(field+".name", fmt.Sprintf("Ensure this field has no more than %d characters.", MaxColumnNameLength))
		}
		if name != "" {
			key := strings.ToLower(name)
			if _, seen := names[key]; seen {
				duplicateName = true
			}
			names[key] = struct{}{}
		}
		if col.Order < 1 {
			verr.Add(field+".order", "Ensure this value is greater than or equal to 1.")
		}
		if w := col.width(); w < MinColumnWidth || w > MaxColumnWidth {
			verr.Add(field+".width", fmt.Sprintf("Ensure this value is between %d and %d.", MinColumnWidth, MaxColumnWidth))
		}
		if id := idOf(col.ID); id != "" {
			if _, seen := columnIDs[id]; seen {
				verr.Add(field+".id", fmt.Sprintf("Column ID '%s' appears more than once.", id))
			}
			columnIDs[id] = struct{}{}
		}
		orders = append(orders, col.Order)
	}
	if len(p.Columns) > 0 && !dense(orders) {
		verr.Add("columns", fmt.Sprintf("Column orders must be unique and sequential from 1 to N. Received orders: %v", sortedCopy(orders)))
	}
	if duplicateName {
		verr.Add("columns", "Column names must be unique (case-insensitive).")
	}

	rowIDs := make(map[string]struct{}, len(p.Rows))
	rowOrders := make([]int, 0, len(p.Rows))
	for i, row := range p.Rows {
		field := fmt.Sprintf("rows[%d]", i)
		if row.Order < 1 {
			verr.Add(field+".order", "Ensure this value is greater than or equal to 1.")
		}
		if len(row.Cells) != len(p.Columns) {
			verr.Add(field+".cells", fmt.Sprintf("Incorrect number of cells. Expected %d, got %d.", len(p.Columns), len(row.Cells)))
		}
		if id := idOf(row.ID); id != "" {
			if _, seen := rowIDs[id]; seen {
				verr.Add(field+".id", fmt.Sprintf("Row ID '%s' appears more than once.", id))
			}
			rowIDs[id] = struct{}{}
		}
		rowOrders = append(rowOrders, row.Order)
	}
	if len(p.Rows) > 0 && !dense(rowOrders) {
		verr.Add("rows", fmt.Sprintf("Row orders must be unique and sequential from 1 to N. Received orders: %v", sortedCopy(rowOrders)))
	}

	if p.CommitMessage != nil && utf8.RuneCountInString(*p.CommitMessage) > MaxCommitMessageLength {
		verr.Add("commit_message", fmt.Sprintf("Ensure this field has no more than %d characters.", MaxCommitMessageLength))
	}

	return verr.orNil()
}

// dense reports whether orders is a permutation of 1..len(orders).
func dense(orders []int) bool {
	seen := make([]bool, len(orders)+1)
	for _, o := range orders {
		if o < 1 || o > len(orders) || seen[o] {
			return false
		}
		seen[o] = true
	}
	return true
}

func sortedCopy(values []int) []int {
	out := append([]int(nil), values...)
	sort.Ints(out)
	return out
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
