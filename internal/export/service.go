package export

import (
	"context"
	"fmt"
)

// Service renders page exports.
type Service struct {
	renderPDF func(ctx context.Context, html, title string) (*Result, error)
}

func NewService() *Service {
	return &Service{renderPDF: renderPDF}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	switch req.Format {
	case FormatCSV:
		data, err := renderCSV(req.Snapshot)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(req.Title) + ".csv",
			MimeType: "text/csv; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := RenderPageHTML(newTemplateData(req))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return s.renderPDF(ctx, html, req.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
