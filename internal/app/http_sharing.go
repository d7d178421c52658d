package app

import (
	"net/http"
	"strconv"
)

func (s *HTTPServer) handlePermissions(w http.ResponseWriter, r *http.Request, session Session, slug string, rest []string) {
	if len(rest) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		permissionID, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Permission not found.", nil)
			return
		}
		if err := s.service.RevokePermission(r.Context(), session, slug, permissionID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeNoContent(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.ListPermissions(r.Context(), session, slug)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var body GrantRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.GrantPermission(r.Context(), session, slug, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		methodNotAllowed(w)
	}
}

// handleGroups routes /api/groups[/{id}[/members[/{userId}]]].
func (s *HTTPServer) handleGroups(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListGroups(r.Context(), session)
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
			payload, err := s.service.CreateGroup(r.Context(), session, body.Name)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			methodNotAllowed(w)
		}
		return

	case 1:
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetGroup(r.Context(), session, parts[0])
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteGroup(r.Context(), session, parts[0]); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeNoContent(w)
		default:
			methodNotAllowed(w)
		}
		return

	case 2:
		if parts[1] != "members" {
			break
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddGroupMember(r.Context(), session, parts[0], body.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case 3:
		if parts[1] != "members" {
			break
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.service.RemoveGroupMember(r.Context(), session, parts[0], parts[2]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeNoContent(w)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
