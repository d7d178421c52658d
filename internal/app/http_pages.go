package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"sheetapp/api/internal/export"
	"sheetapp/api/internal/sheet"
)

// handlePages routes /api/pages and everything under a page slug. parts
// starts after "pages".
func (s *HTTPServer) handlePages(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListPages(r.Context(), session)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreatePage(r.Context(), session, body.Name)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w)
		}
		return
	}

	slug := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		s.handlePage(w, r, session, slug)
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "data":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		payload, err := s.service.GetPageData(r.Context(), session, slug)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "save":
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var payload sheet.Payload
		if err := decodeBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SavePage(r.Context(), session, slug, payload)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(rest) == 2 && rest[0] == "columns" && rest[1] == "width":
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		s.handleColumnWidths(w, r, session, slug)

	case len(rest) == 1 && rest[0] == "versions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		payload, err := s.service.ListVersions(r.Context(), session, slug)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case rest[0] == "history" && len(rest) <= 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if len(rest) == 2 {
			payload, err := s.service.HistorySnapshot(r.Context(), session, slug, rest[1])
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.History(r.Context(), session, slug, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case rest[0] == "permissions" && len(rest) <= 2:
		s.handlePermissions(w, r, session, slug, rest[1:])

	case rest[0] == "export" && len(rest) <= 2:
		s.handleExport(w, r, session, slug, rest[1:])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, session Session, slug string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetPage(r.Context(), session, slug)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut, http.MethodPatch:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RenamePage(r.Context(), session, slug, body.Name)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeletePage(r.Context(), session, slug); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeNoContent(w)
	default:
		methodNotAllowed(w)
	}
}

// handleColumnWidths accepts {"updates": [{"id", "width"}, ...]}.
func (s *HTTPServer) handleColumnWidths(w http.ResponseWriter, r *http.Request, session Session, slug string) {
	var body struct {
		Updates json.RawMessage `json:"updates"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	raw := bytes.TrimSpace(body.Updates)
	var updates []sheet.WidthUpdate
	if len(raw) == 0 || raw[0] != '[' || json.Unmarshal(raw, &updates) != nil {
		msg := "Invalid data format: 'updates' must be a list."
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg, map[string]any{"errors": []string{msg}})
		return
	}
	payload, err := s.service.UpdateColumnWidths(r.Context(), session, slug, updates)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleExport serves GET export?format=csv|pdf as a download, and POST
// export/archive and export/google.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, slug string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		format := export.Format(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
		if format == "" {
			format = export.FormatCSV
		}
		result, err := s.service.Export(r.Context(), session, slug, format)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch rest[0] {
	case "archive":
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format := export.Format(strings.ToLower(strings.TrimSpace(body.Format)))
		if format == "" {
			format = export.FormatCSV
		}
		payload, err := s.service.ArchiveExport(r.Context(), session, slug, format)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	case "google":
		payload, err := s.service.PublishToGoogle(r.Context(), session, slug)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
