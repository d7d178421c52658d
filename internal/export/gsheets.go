package export

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sheetapp/api/internal/sheet"
)

// Published is a page copied into a new Google spreadsheet.
type Published struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	URL           string `json:"url"`
}

// GoogleSheets publishes page grids with a service account.
type GoogleSheets struct {
	svc *sheets.Service
}

func NewGoogleSheets(ctx context.Context, credentialsFile string) (*GoogleSheets, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleSheets{svc: svc}, nil
}

// Publish creates a spreadsheet titled after the page, writes the header
// and rows as raw values, bolds and freezes the header and copies column widths.
func (g *GoogleSheets) Publish(ctx context.Context, title string, snap sheet.Snapshot) (Published, error) {
	created, err := g.svc.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
		Sheets: []*sheets.Sheet{{
			Properties: &sheets.SheetProperties{Title: sheetTitle},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return Published{}, fmt.Errorf("create spreadsheet: %w", err)
	}

	writeRange := fmt.Sprintf("'%s'!A1", sheetTitle)
	_, err = g.svc.Spreadsheets.Values.Update(created.SpreadsheetId, writeRange, &sheets.ValueRange{
		Range:  writeRange,
		Values: sheetValues(snap),
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return Published{}, fmt.Errorf("write values: %w", err)
	}

	var sheetID int64
	if len(created.Sheets) > 0 && created.Sheets[0].Properties != nil {
		sheetID = created.Sheets[0].Properties.SheetId
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(created.SpreadsheetId, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: formatRequests(sheetID, snap),
	}).Context(ctx).Do(); err != nil {
		return Published{}, fmt.Errorf("format spreadsheet: %w", err)
	}

	return Published{SpreadsheetID: created.SpreadsheetId, URL: created.SpreadsheetUrl}, nil
}

const sheetTitle = "Page"

func sheetValues(snap sheet.Snapshot) [][]interface{} {
	values := make([][]interface{}, 0, len(snap.Rows)+1)
	header := make([]interface{}, len(snap.Columns))
	for i, col := range snap.Columns {
		header[i] = col.Name
	}
	values = append(values, header)
	for _, row := range snap.Rows {
		cells := padCells(row.Cells, len(snap.Columns))
		record := make([]interface{}, len(cells))
		for i, v := range cells {
			record[i] = v
		}
		values = append(values, record)
	}
	return values
}

func formatRequests(sheetID int64, snap sheet.Snapshot) []*sheets.Request {
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(snap.Columns)),
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        sheetID,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}
	for i, col := range snap.Columns {
		requests = append(requests, &sheets.Request{
			UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: int64(i),
					EndIndex:   int64(i + 1),
				},
				Properties: &sheets.DimensionProperties{PixelSize: int64(col.Width)},
				Fields:     "pixelSize",
			},
		})
	}
	return requests
}
