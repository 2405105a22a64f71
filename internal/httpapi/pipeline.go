package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fraudnet.ai/internal/audit"
	"fraudnet.ai/internal/auth"
	"fraudnet.ai/internal/obs"
	"fraudnet.ai/internal/ratelimit"
)

// auditInfo is what a protected handler reports back for the trail. The
// pipeline owns the append; handlers only describe what they did.
type auditInfo struct {
	entityType string
	entityID   string
	changes    map[string]any
}

type protectedFunc func(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo

// route describes one protected endpoint: the audit action name, the
// capability the caller must hold (nil means any authenticated caller), the
// rate-limit class, and whether the handler mutates state.
type route struct {
	action     string
	capability *auth.Capability
	class      ratelimit.Class
	mutating   bool
}

// protect composes the fixed per-request order: authenticate, authorize,
// rate-limit, execute, audit. Each step short-circuits; authorization runs
// before the limiter so a forbidden request does not burn quota.
func (a *API) protect(rt route, h protectedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Step 1: authenticate.
		caller, err := a.authenticate(r)
		if err != nil {
			obs.AuthFailure(authFailureReason(err))
			switch {
			case errors.Is(err, auth.ErrNotFound):
				// Unknown API key presents the same as a bad token.
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case isAuthSentinel(err):
				handleAuthError(w, r, err)
			default:
				writeError(w, r, http.StatusUnauthorized, err.Error())
			}
			return
		}

		// Step 2: authorize. Denials are audited best-effort since no
		// state changed.
		if rt.capability != nil {
			if d := auth.Authorize(caller.Role, *rt.capability); !d.Allowed {
				obs.AuthzDenial(d.Capability)
				a.auditor.AppendBestEffort(context.WithoutCancel(r.Context()), audit.Entry{
					Action:     audit.ActionAuthorizationDenied,
					Severity:   audit.SeverityWarning,
					EntityType: "capability",
					EntityID:   d.Capability,
					Actor:      caller.UserID,
					SourceAddr: clientIP(r),
					Changes: map[string]any{
						"role":   string(caller.Role),
						"method": r.Method,
						"path":   r.URL.Path,
					},
				})
				writeError(w, r, http.StatusForbidden, "missing capability "+d.Capability)
				return
			}
		}

		// Step 3: rate limit. Headers go on every response so clients can
		// pace themselves before hitting the wall.
		policy := a.policies.Resolve(string(caller.Role), rt.class)
		res, err := a.limiter.Allow(r.Context(), ratelimit.Key(caller.UserID, rt.class), policy)
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "rate limiter unavailable")
			return
		}
		setRateLimitHeaders(w, res)
		if !res.Allowed {
			obs.RateLimitReject(string(rt.class))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res)))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		// Steps 4 and 5 run to completion even if the client goes away:
		// an action must never execute without its trail entry.
		ctx := auth.ContextWithCaller(context.WithoutCancel(r.Context()), caller)
		req := r.WithContext(ctx)

		if rt.mutating {
			a.runMutation(w, req, rt, caller, h)
			return
		}

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		info := h(sw, req, caller)
		a.auditor.AppendBestEffort(ctx, a.entry(rt, caller, req, sw.code, info))
	}
}

// runMutation buffers the handler's response and only releases it after the
// audit record is durable. An unauditable mutation is reported to the
// caller as a failure.
func (a *API) runMutation(w http.ResponseWriter, r *http.Request, rt route, caller auth.CallerContext, h protectedFunc) {
	bw := &bufferedWriter{header: make(http.Header), code: http.StatusOK}
	info := h(bw, r, caller)

	if _, err := a.auditor.Append(r.Context(), a.entry(rt, caller, r, bw.code, info)); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	bw.flush(w)
}

func (a *API) entry(rt route, caller auth.CallerContext, r *http.Request, status int, info auditInfo) audit.Entry {
	severity := audit.SeverityInfo
	if status >= 400 {
		severity = audit.SeverityWarning
	}
	changes := info.changes
	if changes == nil {
		changes = map[string]any{}
	}
	changes["status"] = status
	return audit.Entry{
		Action:     rt.action,
		Severity:   severity,
		EntityType: info.entityType,
		EntityID:   info.entityID,
		Actor:      caller.UserID,
		SourceAddr: clientIP(r),
		Changes:    changes,
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))
}

func retryAfterSeconds(res ratelimit.Result) int {
	secs := int(res.ResetAfter / time.Second)
	if res.ResetAfter%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

func isAuthSentinel(err error) bool {
	for _, sentinel := range []error{
		auth.ErrTokenInvalid, auth.ErrTokenExpired, auth.ErrTokenRevoked,
		auth.ErrInvalidCredentials, auth.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, auth.ErrNotFound):
		return "unknown_key"
	default:
		return "missing"
	}
}

// bufferedWriter holds a response until the pipeline decides to release it.
type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) { b.code = code }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for k, vals := range b.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.code)
	_, _ = w.Write(b.body.Bytes())
}

var _ http.ResponseWriter = (*bufferedWriter)(nil)
