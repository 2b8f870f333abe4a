package server

import (
	"fmt"
	"net/http"
	"strconv"

	"cmdgate/internal/domain"
)

type submitRequest struct {
	CommandText string `json:"command_text"`
}

type decisionRequest struct {
	Approve *bool `json:"approve"`
}

// handleSubmit is POST /commands. The response carries the command in its
// post-admission state: pending, rejected, executed, or failed.
func (s *Server) handleSubmit(rw http.ResponseWriter, r *http.Request, user *domain.User) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(rw, err)
		return
	}

	cmd, err := s.gateway.Submit(r.Context(), user.ID, req.CommandText)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusCreated, cmd)
}

// handleListCommands is GET /commands. Members see their own history;
// admins see everyone's, optionally filtered with ?user_id=.
func (s *Server) handleListCommands(rw http.ResponseWriter, r *http.Request, user *domain.User) {
	userID := user.ID
	if user.IsAdmin() {
		userID = r.URL.Query().Get("user_id")
	}
	limit, offset := pagination(r, 50)

	cmds, err := s.gateway.List(r.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, cmds)
}

// handleGetCommand is GET /commands/{id}. A member asking for another
// user's command gets a 404, not a 403, so command IDs are not probeable.
func (s *Server) handleGetCommand(rw http.ResponseWriter, r *http.Request, user *domain.User) {
	cmd, err := s.gateway.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	if !user.IsAdmin() && cmd.UserID != user.ID {
		s.writeError(rw, fmt.Errorf("%w: command not found", domain.ErrNotFound))
		return
	}
	s.writeJSON(rw, http.StatusOK, cmd)
}

// handleDecision is POST /commands/{id}/decision. Deciding a command that
// is no longer pending is a 409.
func (s *Server) handleDecision(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(rw, err)
		return
	}
	if req.Approve == nil {
		s.writeError(rw, fmt.Errorf("%w: approve field is required", domain.ErrValidation))
		return
	}

	cmd, err := s.gateway.Decide(r.Context(), r.PathValue("id"), admin.ID, *req.Approve)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, cmd)
}

// handleListPending is GET /admin/pending: the approval queue, oldest first.
func (s *Server) handleListPending(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	cmds, err := s.gateway.ListPending(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, cmds)
}

// pagination reads limit/offset query params, clamping limit to [1, 200].
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 200)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
