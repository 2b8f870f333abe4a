package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"cmdgate/internal/domain"
	"cmdgate/internal/rule"
)

type createUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type updateUserRequest struct {
	Credits *int `json:"credits"`
}

type createRuleRequest struct {
	Priority    int    `json:"priority"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type updateRuleRequest struct {
	Priority    *int    `json:"priority"`
	Pattern     *string `json:"pattern"`
	Action      *string `json:"action"`
	Description *string `json:"description"`
}

// userWithKey is the one response that ever contains an API key.
type userWithKey struct {
	domain.User
	APIKey string `json:"api_key"`
}

// NewAPIKey generates a usr_-prefixed bearer key, shown only at creation.
func NewAPIKey() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return "usr_" + base64.RawURLEncoding.EncodeToString(buf)
}

// handleCreateUser is POST /admin/users. The response includes the user's
// API key; it is never retrievable again.
func (s *Server) handleCreateUser(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	var req createUserRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(rw, err)
		return
	}
	if req.Name == "" {
		s.writeError(rw, fmt.Errorf("%w: name is required", domain.ErrValidation))
		return
	}

	role := domain.RoleMember
	credits := s.memberCredits
	if req.Role == string(domain.RoleAdmin) {
		role = domain.RoleAdmin
		credits = s.adminCredits
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:        NewID(),
		Name:      req.Name,
		APIKey:    NewAPIKey(),
		Role:      role,
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.writeError(rw, err)
		return
	}

	s.audit(r, admin.ID, domain.AuditUserCreated, domain.AuditDetails{
		Extra: map[string]string{"user_id": user.ID, "name": user.Name, "role": string(role)},
	})
	s.writeJSON(rw, http.StatusCreated, userWithKey{User: user, APIKey: user.APIKey})
}

func (s *Server) handleListUsers(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, users)
}

// handleUpdateUser is PUT /admin/users/{id}: sets the user's credit balance.
func (s *Server) handleUpdateUser(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	var req updateUserRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(rw, err)
		return
	}
	if req.Credits == nil {
		s.writeError(rw, fmt.Errorf("%w: credits field is required", domain.ErrValidation))
		return
	}

	userID := r.PathValue("id")
	if _, err := s.ledger.Set(r.Context(), admin.ID, userID, *req.Credits); err != nil {
		s.writeError(rw, err)
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, user)
}

// --- rules ---

// handleCreateRule is POST /admin/rules. The pattern must compile; rules
// take effect on the next submission without a restart.
func (s *Server) handleCreateRule(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	var req createRuleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(rw, err)
		return
	}
	if req.Priority < 0 {
		s.writeError(rw, fmt.Errorf("%w: priority must be >= 0", domain.ErrValidation))
		return
	}
	if err := rule.ValidatePattern(req.Pattern); err != nil {
		s.writeError(rw, err)
		return
	}
	if !domain.ValidRuleAction(req.Action) {
		s.writeError(rw, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, req.Action))
		return
	}

	created := domain.Rule{
		ID:          NewID(),
		Priority:    req.Priority,
		Pattern:     req.Pattern,
		Action:      domain.RuleAction(req.Action),
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateRule(r.Context(), created); err != nil {
		s.writeError(rw, err)
		return
	}

	s.audit(r, admin.ID, domain.AuditRuleCreated, domain.AuditDetails{
		RuleID: created.ID,
		Extra:  map[string]string{"pattern": created.Pattern, "action": string(created.Action)},
	})
	s.writeJSON(rw, http.StatusCreated, created)
}

func (s *Server) handleListRules(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, rules)
}

// handleUpdateRule is PUT /admin/rules/{id}. Only the fields present in
// the body change.
func (s *Server) handleUpdateRule(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	var req updateRuleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(rw, err)
		return
	}

	existing, err := s.store.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(rw, err)
		return
	}

	if req.Priority != nil {
		if *req.Priority < 0 {
			s.writeError(rw, fmt.Errorf("%w: priority must be >= 0", domain.ErrValidation))
			return
		}
		existing.Priority = *req.Priority
	}
	if req.Pattern != nil {
		if err := rule.ValidatePattern(*req.Pattern); err != nil {
			s.writeError(rw, err)
			return
		}
		existing.Pattern = *req.Pattern
	}
	if req.Action != nil {
		if !domain.ValidRuleAction(*req.Action) {
			s.writeError(rw, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, *req.Action))
			return
		}
		existing.Action = domain.RuleAction(*req.Action)
	}
	if req.Description != nil {
		existing.Description = *req.Description
	}

	if err := s.store.UpdateRule(r.Context(), *existing); err != nil {
		s.writeError(rw, err)
		return
	}

	s.audit(r, admin.ID, domain.AuditRuleUpdated, domain.AuditDetails{
		RuleID: existing.ID,
		Extra:  map[string]string{"pattern": existing.Pattern, "action": string(existing.Action)},
	})
	s.writeJSON(rw, http.StatusOK, existing)
}

func (s *Server) handleDeleteRule(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	id := r.PathValue("id")
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		s.writeError(rw, err)
		return
	}

	s.audit(r, admin.ID, domain.AuditRuleDeleted, domain.AuditDetails{RuleID: id})
	rw.WriteHeader(http.StatusNoContent)
}

// handleListAudit is GET /admin/audit-logs, newest first.
func (s *Server) handleListAudit(rw http.ResponseWriter, r *http.Request, admin *domain.User) {
	limit, offset := pagination(r, 100)
	entries, err := s.store.ListAudit(r.Context(), limit, offset)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	s.writeJSON(rw, http.StatusOK, entries)
}

func (s *Server) audit(r *http.Request, actorID, eventType string, details domain.AuditDetails) {
	err := s.store.AppendAudit(r.Context(), domain.AuditEntry{
		ID:          NewID(),
		ActorUserID: actorID,
		EventType:   eventType,
		Details:     details,
	})
	if err != nil {
		s.logger.Error("audit write failed", "event", eventType, "err", err)
	}
}
