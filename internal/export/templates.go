package export

import (
	"bytes"
	"html/template"
	"time"

	"sheetapp/api/internal/sheet"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).Parse(pageHTML))

// TemplateData holds data for page template rendering
type TemplateData struct {
	Title     string
	Owner     string
	UpdatedAt time.Time
	Columns   []sheet.Column
	Rows      [][]string
}

func newTemplateData(req Request) TemplateData {
	data := TemplateData{
		Title:     req.Title,
		Owner:     req.Owner,
		UpdatedAt: req.UpdatedAt,
		Columns:   req.Snapshot.Columns,
		Rows:      make([][]string, 0, len(req.Snapshot.Rows)),
	}
	for _, row := range req.Snapshot.Rows {
		data.Rows = append(data.Rows, padCells(row.Cells, len(req.Snapshot.Columns)))
	}
	return data
}

// RenderPageHTML renders the grid as a printable HTML table.
func RenderPageHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const pageHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: landscape; }
    body { font-family: Arial, sans-serif; font-size: 11px; margin: 0; }
    h1 { font-size: 18px; border-bottom: 2px solid #333; padding-bottom: 0.3rem; }
    .meta { color: #666; margin-bottom: 1rem; }
    table { border-collapse: collapse; table-layout: fixed; }
    th, td { border: 1px solid #bbb; padding: 4px 6px; vertical-align: top; overflow-wrap: anywhere; }
    th { background: #f0f0f0; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Owner}}{{with formatDate .UpdatedAt "Jan 2, 2006 15:04"}} | {{.}}{{end}}</div>
  <table>
    <colgroup>{{range .Columns}}<col style="width: {{.Width}}px">{{end}}</colgroup>
    <thead><tr>{{range .Columns}}<th>{{.Name}}</th>{{end}}</tr></thead>
    <tbody>
    {{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
    {{end}}</tbody>
  </table>
</body>
</html>`
