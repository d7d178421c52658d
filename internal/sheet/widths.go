package sheet

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type WidthUpdate struct {
	ID    *string         `json:"id"`
	Width json.RawMessage `json:"width"`
}

// WidthError lists every rejected item of a width batch.
type WidthError struct {
	Errors []string
}

func (e *WidthError) Error() string {
	return "invalid width updates: " + strings.Join(e.Errors, "; ")
}

// PlanWidths validates a width batch against the page's columns and returns
// the columns whose width actually changes. A single bad item rejects the batch.
func PlanWidths(columns []Column, updates []WidthUpdate) ([]Column, error) {
	byID := make(map[string]Column, len(columns))
	for _, col := range columns {
		byID[col.ID] = col
	}

	var problems []string
	pending := make(map[string]int, len(updates))
	var order []string
	for i, update := range updates {
		id := idOf(update.ID)
		raw := strings.TrimSpace(string(update.Width))
		if id == "" || raw == "" || raw == "null" {
			problems = append(problems, fmt.Sprintf("Missing 'id' or 'width' in update item %d.", i))
			continue
		}
		if _, ok := byID[id]; !ok {
			problems = append(problems, fmt.Sprintf("Column with id '%s' not found for this page.", id))
			continue
		}
		width, ok := parseWidth(raw)
		if !ok || width < MinColumnWidth || width > MaxColumnWidth {
			problems = append(problems, fmt.Sprintf("Invalid width value for column '%s'. Must be an integer between %d and %d.", id, MinColumnWidth, MaxColumnWidth))
			continue
		}
		if _, seen := pending[id]; !seen {
			order = append(order, id)
		}
		pending[id] = width
	}
	if len(problems) > 0 {
		return nil, &WidthError{Errors: problems}
	}

	changed := make([]Column, 0, len(order))
	for _, id := range order {
		col := byID[id]
		if col.Width == pending[id] {
			continue
		}
		col.Width = pending[id]
		changed = append(changed, col)
	}
	return changed, nil
}

func parseWidth(raw string) (int, bool) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
