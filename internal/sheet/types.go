// Package sheet holds the page grid model and the save reconciliation rules:
// payload validation, diff planning against persisted state and snapshots.
// Nothing here touches storage; the store applies the planned Changes.
package sheet

const (
	DefaultColumnWidth     = 150
	MinColumnWidth         = 10
	MaxColumnWidth         = 2000
	MaxColumnNameLength    = 100
	MaxCommitMessageLength = 500
	DefaultCommitMessage   = "Page updated via API"
)

type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
	Width int    `json:"width"`
}

type Row struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type Cell struct {
	ID       int64
	RowID    string
	ColumnID string
	Value    string
}

// State is the persisted structure of one page.
type State struct {
	Columns []Column
	Rows    []Row
	Cells   []Cell
}

type ColumnInput struct {
	ID    *string `json:"id"`
	Name  string  `json:"name"`
	Order int     `json:"order"`
	Width *int    `json:"width,omitempty"`
}

type RowInput struct {
	ID    *string  `json:"id"`
	Order int      `json:"order"`
	Cells []string `json:"cells"`
}

// Payload is a full page submission. Rows carry their cells in column array order.
type Payload struct {
	Columns       []ColumnInput `json:"columns"`
	Rows          []RowInput    `json:"rows"`
	CommitMessage *string       `json:"commit_message,omitempty"`
}

// Message returns the commit message to record for this payload.
func (p Payload) Message() string {
	if p.CommitMessage == nil {
		return DefaultCommitMessage
	}
	if msg := trim(*p.CommitMessage); msg != "" {
		return msg
	}
	return DefaultCommitMessage
}

func (c ColumnInput) width() int {
	if c.Width == nil {
		return DefaultColumnWidth
	}
	return *c.Width
}

func idOf(id *string) string {
	if id == nil {
		return ""
	}
	return trim(*id)
}
