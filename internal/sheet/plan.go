package sheet

import (
	"fmt"
	"sort"
)

// Changes is the complete set of writes needed to turn a persisted State
// into a submitted Payload. New columns and rows get their ids up front so
// cells can reference them before anything is written.
type Changes struct {
	DeleteColumns []string
	UpdateColumns []Column
	CreateColumns []Column

	DeleteRows []string
	UpdateRows []Row
	CreateRows []Row

	DeleteCells []int64
	UpdateCells []Cell
	CreateCells []Cell
}

// Empty reports whether applying c would leave the structure untouched.
func (c Changes) Empty() bool {
	return len(c.DeleteColumns) == 0 && len(c.UpdateColumns) == 0 && len(c.CreateColumns) == 0 &&
		len(c.DeleteRows) == 0 && len(c.UpdateRows) == 0 && len(c.CreateRows) == 0 &&
		len(c.DeleteCells) == 0 && len(c.UpdateCells) == 0 && len(c.CreateCells) == 0
}

type cellKey struct {
	rowID    string
	columnID string
}

// Plan diffs p against current. The payload must already have passed
// Validate. Final positions come from array order, not from the submitted
// order values. Referencing an id that current does not contain yields a
// *ValidationError and no changes.
func Plan(current State, p Payload, newID func() string) (Changes, error) {
	var changes Changes
	verr := &ValidationError{}

	existingColumns := make(map[string]Column, len(current.Columns))
	for _, col := range current.Columns {
		existingColumns[col.ID] = col
	}
	keptColumns := make(map[string]struct{}, len(p.Columns))
	finalColumnIDs := make([]string, len(p.Columns))

	for i, in := range p.Columns {
		target := Column{Name: trim(in.Name), Order: i + 1, Width: in.width()}
		id := idOf(in.ID)
		if id == "" {
			target.ID = newID()
			changes.CreateColumns = append(changes.CreateColumns, target)
			finalColumnIDs[i] = target.ID
			continue
		}
		existing, ok := existingColumns[id]
		if !ok {
			verr.Add(fmt.Sprintf("columns[%d].id", i), fmt.Sprintf("Column ID '%s' does not exist for this page.", id))
			continue
		}
		target.ID = id
		keptColumns[id] = struct{}{}
		finalColumnIDs[i] = id
		if existing != target {
			changes.UpdateColumns = append(changes.UpdateColumns, target)
		}
	}

	existingRows := make(map[string]Row, len(current.Rows))
	for _, row := range current.Rows {
		existingRows[row.ID] = row
	}
	keptRows := make(map[string]struct{}, len(p.Rows))
	finalRowIDs := make([]string, len(p.Rows))

	for i, in := range p.Rows {
		target := Row{Order: i + 1}
		id := idOf(in.ID)
		if id == "" {
			target.ID = newID()
			changes.CreateRows = append(changes.CreateRows, target)
			finalRowIDs[i] = target.ID
			continue
		}
		existing, ok := existingRows[id]
		if !ok {
			verr.Add(fmt.Sprintf("rows[%d].id", i), fmt.Sprintf("Row ID '%s' does not exist for this page.", id))
			continue
		}
		target.ID = id
		keptRows[id] = struct{}{}
		finalRowIDs[i] = id
		if existing != target {
			changes.UpdateRows = append(changes.UpdateRows, target)
		}
	}

	if err := verr.orNil(); err != nil {
		return Changes{}, err
	}

	for _, col := range sortColumns(current.Columns) {
		if _, ok := keptColumns[col.ID]; !ok {
			changes.DeleteColumns = append(changes.DeleteColumns, col.ID)
		}
	}
	for _, row := range sortRows(current.Rows) {
		if _, ok := keptRows[row.ID]; !ok {
			changes.DeleteRows = append(changes.DeleteRows, row.ID)
		}
	}

	existingCells := make(map[cellKey]Cell, len(current.Cells))
	for _, cell := range current.Cells {
		existingCells[cellKey{rowID: cell.RowID, columnID: cell.ColumnID}] = cell
	}
	processed := make(map[cellKey]struct{}, len(existingCells))

	for i, row := range p.Rows {
		rowID := finalRowIDs[i]
		for j, value := range row.Cells {
			if j >= len(finalColumnIDs) {
				break
			}
			key := cellKey{rowID: rowID, columnID: finalColumnIDs[j]}
			existing, ok := existingCells[key]
			if ok {
				processed[key] = struct{}{}
				if existing.Value != value {
					changes.UpdateCells = append(changes.UpdateCells, Cell{ID: existing.ID, RowID: key.rowID, ColumnID: key.columnID, Value: value})
				}
				continue
			}
			// a missing cell already reads as "", so an empty value needs no row
			if value == "" {
				continue
			}
			changes.CreateCells = append(changes.CreateCells, Cell{RowID: key.rowID, ColumnID: key.columnID, Value: value})
		}
	}

	for _, cell := range current.Cells {
		if _, ok := processed[cellKey{rowID: cell.RowID, columnID: cell.ColumnID}]; !ok {
			changes.DeleteCells = append(changes.DeleteCells, cell.ID)
		}
	}
	sort.Slice(changes.DeleteCells, func(i, j int) bool { return changes.DeleteCells[i] < changes.DeleteCells[j] })

	return changes, nil
}

func sortColumns(columns []Column) []Column {
	out := append([]Column(nil), columns...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortRows(rows []Row) []Row {
	out := append([]Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
