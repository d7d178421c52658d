// Package export renders page grids as CSV or PDF, archives exports in
// object storage and publishes pages to Google Sheets.
package export

import (
	"errors"
	"time"

	"sheetapp/api/internal/sheet"
)

type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatPDF
}

// Request is one page to export.
type Request struct {
	Title     string
	Owner     string
	UpdatedAt time.Time
	Snapshot  sheet.Snapshot
	Format    Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrNotConfigured is returned by integrations whose settings are absent.
	ErrNotConfigured = errors.New("export integration not configured")
)
