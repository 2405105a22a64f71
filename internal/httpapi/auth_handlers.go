package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"fraudnet.ai/internal/audit"
	"fraudnet.ai/internal/auth"
	"fraudnet.ai/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	TokenID  string `json:"token_id,omitempty"`
	FamilyID string `json:"family_id,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	// Login and its trail entry run to completion even if the caller
	// disconnects mid-request.
	ctx := context.WithoutCancel(r.Context())
	pair, user, err := a.session.Login(ctx, req.Email, req.Password)
	if err != nil {
		obs.AuthFailure("credentials")
		a.auditor.AppendBestEffort(ctx, audit.Entry{
			Action:     audit.ActionLoginFailed,
			Severity:   audit.SeverityWarning,
			EntityType: "user",
			Actor:      req.Email,
			SourceAddr: clientIP(r),
			Changes:    map[string]any{},
		})
		handleAuthError(w, r, err)
		return
	}

	if _, err := a.auditor.Append(ctx, audit.Entry{
		Action:     audit.ActionLogin,
		EntityType: "user",
		EntityID:   user.ID,
		Actor:      user.ID,
		SourceAddr: clientIP(r),
		Changes:    map[string]any{"role": string(user.Role)},
	}); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Seconds()),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	pair, user, err := a.session.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrReplayDetected) {
			// Reuse of a consumed token means the token leaked. The
			// whole family is already dead; record it loudly.
			a.auditor.AppendBestEffort(ctx, audit.Entry{
				Action:     audit.ActionRefreshReplay,
				Severity:   audit.SeverityCritical,
				EntityType: "refresh_token",
				SourceAddr: clientIP(r),
				Actor:      "unknown",
				Changes:    map[string]any{},
			})
		}
		handleAuthError(w, r, err)
		return
	}

	a.auditor.AppendBestEffort(ctx, audit.Entry{
		Action:     audit.ActionRefresh,
		EntityType: "user",
		EntityID:   user.ID,
		Actor:      user.ID,
		SourceAddr: clientIP(r),
		Changes:    map[string]any{},
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Seconds()),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	if err := a.session.Logout(r.Context(), caller); err != nil {
		handleAuthError(w, r, err)
		return auditInfo{entityType: "session", entityID: caller.TokenID}
	}
	w.WriteHeader(http.StatusNoContent)
	return auditInfo{entityType: "session", entityID: caller.TokenID}
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "token"}
	}
	switch {
	case req.FamilyID != "":
		if err := a.session.RevokeFamily(r.Context(), req.FamilyID); err != nil {
			handleAuthError(w, r, err)
			return auditInfo{entityType: "token_family", entityID: req.FamilyID}
		}
		w.WriteHeader(http.StatusNoContent)
		return auditInfo{
			entityType: "token_family",
			entityID:   req.FamilyID,
			changes:    map[string]any{"scope": "family"},
		}
	case req.TokenID != "":
		// Without the token in hand the expiry is unknown; deny for the
		// maximum access-token lifetime.
		if err := a.session.RevokeToken(r.Context(), req.TokenID, time.Now().Add(time.Hour)); err != nil {
			handleAuthError(w, r, err)
			return auditInfo{entityType: "token", entityID: req.TokenID}
		}
		w.WriteHeader(http.StatusNoContent)
		return auditInfo{
			entityType: "token",
			entityID:   req.TokenID,
			changes:    map[string]any{"scope": "token"},
		}
	default:
		writeError(w, r, http.StatusBadRequest, "token_id or family_id is required")
		return auditInfo{entityType: "token"}
	}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      caller.UserID,
		"identity":     caller.Identity,
		"role":         string(caller.Role),
		"auth_method":  caller.Method,
		"capabilities": auth.CapabilitiesFor(caller.Role),
	})
	return auditInfo{entityType: "user", entityID: caller.UserID}
}
