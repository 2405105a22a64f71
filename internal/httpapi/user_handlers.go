package httpapi

import (
	"net/http"
	"strings"
	"time"

	"fraudnet.ai/internal/auth"
)

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastLogin  *time.Time `json:"last_login_at,omitempty"`
	LoginCount int        `json:"login_count"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       string(u.Role),
		Active:     u.Active,
		CreatedAt:  u.CreatedAt,
		LastLogin:  u.LastLoginAt,
		LoginCount: u.LoginCount,
	}
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "user"}
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return auditInfo{entityType: "user"}
	}
	if req.Email == "" || len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "email and a password of at least 8 characters are required")
		return auditInfo{entityType: "user"}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return auditInfo{entityType: "user"}
	}
	user := &auth.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := a.users.Create(r.Context(), user); err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "user"}
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
	return auditInfo{
		entityType: "user",
		entityID:   user.ID,
		changes:    map[string]any{"email": user.Email, "role": string(role)},
	}
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	users, err := a.users.List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "user"}
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
	return auditInfo{entityType: "user", changes: map[string]any{"count": len(items)}}
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	id, _, _ := splitUserPath(r.URL.Path)
	user, err := a.users.Find(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "user", entityID: id}
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
	return auditInfo{entityType: "user", entityID: id}
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUpdateUserRole(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	id, _, _ := splitUserPath(r.URL.Path)
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "user", entityID: id}
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return auditInfo{entityType: "user", entityID: id}
	}
	if err := a.users.UpdateRole(r.Context(), id, role); err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "user", entityID: id}
	}
	w.WriteHeader(http.StatusNoContent)
	return auditInfo{
		entityType: "user",
		entityID:   id,
		changes:    map[string]any{"role": string(role)},
	}
}

type updatePasswordRequest struct {
	Password string `json:"password"`
}

func (a *API) handleUpdateUserPassword(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	id, _, _ := splitUserPath(r.URL.Path)

	// Self-service or admin; nobody else changes another user's password.
	if caller.UserID != id && caller.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return auditInfo{entityType: "user", entityID: id}
	}

	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "user", entityID: id}
	}
	if len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return auditInfo{entityType: "user", entityID: id}
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return auditInfo{entityType: "user", entityID: id}
	}
	if err := a.users.UpdatePassword(r.Context(), id, hash); err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "user", entityID: id}
	}
	w.WriteHeader(http.StatusNoContent)
	return auditInfo{entityType: "user", entityID: id}
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	id, _, _ := splitUserPath(r.URL.Path)
	if id == caller.UserID {
		writeError(w, r, http.StatusBadRequest, "cannot deactivate yourself")
		return auditInfo{entityType: "user", entityID: id}
	}
	if err := a.users.Deactivate(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "user", entityID: id}
	}
	w.WriteHeader(http.StatusNoContent)
	return auditInfo{
		entityType: "user",
		entityID:   id,
		changes:    map[string]any{"active": false},
	}
}

type createAPIKeyRequest struct {
	Owner string `json:"owner"`
	Role  string `json:"role"`
	TTL   string `json:"ttl,omitempty"`
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	var req createAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "apikey"}
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return auditInfo{entityType: "apikey"}
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "owner is required")
		return auditInfo{entityType: "apikey"}
	}
	ttl := 90 * 24 * time.Hour
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "ttl must be a positive duration")
			return auditInfo{entityType: "apikey"}
		}
		ttl = parsed
	}

	plaintext, key, err := a.session.IssueAPIKey(r.Context(), owner, role, ttl)
	if err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "apikey"}
	}

	// The plaintext key appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         key.ID,
		"key":        plaintext,
		"owner":      key.Owner,
		"role":       string(key.Role),
		"expires_at": key.ExpiresAt,
	})
	return auditInfo{
		entityType: "apikey",
		entityID:   key.ID,
		changes:    map[string]any{"owner": owner, "role": string(role)},
	}
}

func (a *API) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/apikeys/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return auditInfo{entityType: "apikey"}
	}
	if err := a.session.RevokeAPIKey(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "apikey", entityID: id}
	}
	w.WriteHeader(http.StatusNoContent)
	return auditInfo{entityType: "apikey", entityID: id}
}
