package app

import "net/http"

// handleTodos routes /api/todos[/{id}[/status/{rowId}]].
func (s *HTTPServer) handleTodos(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListTodos(r.Context(), session)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body CreateTodoRequest
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateTodo(r.Context(), session, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 1:
		todoID := parts[0]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetTodo(r.Context(), session, todoID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut, http.MethodPatch:
			var body UpdateTodoRequest
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateTodo(r.Context(), session, todoID, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteTodo(r.Context(), session, todoID); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeNoContent(w)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 3 && parts[1] == "status":
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateTodoStatus(r.Context(), session, parts[0], parts[2], body.Status)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
