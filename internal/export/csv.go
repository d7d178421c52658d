package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"sheetapp/api/internal/sheet"
)

// renderCSV writes the column names as a header followed by one record per
// row. Rows shorter than the column list are padded with empty fields.
func renderCSV(snap sheet.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(snap.Columns))
	for i, col := range snap.Columns {
		header[i] = col.Name
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range snap.Rows {
		if err := w.Write(padCells(row.Cells, len(snap.Columns))); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", row.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func padCells(cells []string, n int) []string {
	out := make([]string, n)
	copy(out, cells)
	return out
}
