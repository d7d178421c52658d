package sheet

// Snapshot is the materialized grid stored on every Version and served as
// page data. It has the same shape as a save Payload.
type Snapshot struct {
	Columns []Column      `json:"columns"`
	Rows    []SnapshotRow `json:"rows"`
}

type SnapshotRow struct {
	ID    string   `json:"id"`
	Order int      `json:"order"`
	Cells []string `json:"cells"`
}

// BuildSnapshot orders columns and rows and lays each row's cells out in
// column order. Absent cells read as "".
func BuildSnapshot(s State) Snapshot {
	columns := sortColumns(s.Columns)
	rows := sortRows(s.Rows)

	position := make(map[string]int, len(columns))
	for i, col := range columns {
		position[col.ID] = i
	}
	values := make(map[string][]string, len(rows))
	for _, row := range rows {
		values[row.ID] = make([]string, len(columns))
	}
	for _, cell := range s.Cells {
		cells, ok := values[cell.RowID]
		if !ok {
			continue
		}
		if j, ok := position[cell.ColumnID]; ok {
			cells[j] = cell.Value
		}
	}

	snap := Snapshot{
		Columns: append(make([]Column, 0, len(columns)), columns...),
		Rows:    make([]SnapshotRow, 0, len(rows)),
	}
	for _, row := range rows {
		snap.Rows = append(snap.Rows, SnapshotRow{ID: row.ID, Order: row.Order, Cells: values[row.ID]})
	}
	return snap
}

// Payload turns a snapshot back into a save submission.
func (s Snapshot) Payload(message string) Payload {
	p := Payload{
		Columns: make([]ColumnInput, 0, len(s.Columns)),
		Rows:    make([]RowInput, 0, len(s.Rows)),
	}
	for _, col := range s.Columns {
		id, width := col.ID, col.Width
		p.Columns = append(p.Columns, ColumnInput{ID: &id, Name: col.Name, Order: col.Order, Width: &width})
	}
	for _, row := range s.Rows {
		id := row.ID
		p.Rows = append(p.Rows, RowInput{ID: &id, Order: row.Order, Cells: append([]string(nil), row.Cells...)})
	}
	if message != "" {
		p.CommitMessage = &message
	}
	return p
}

// DefaultColumns is the structure given to a page created without columns.
func DefaultColumns(newID func() string) []Column {
	return []Column{
		{ID: newID(), Name: "Column A", Order: 1, Width: DefaultColumnWidth},
		{ID: newID(), Name: "Column B", Order: 2, Width: DefaultColumnWidth},
	}
}
