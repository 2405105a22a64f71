package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fraudnet.ai/internal/audit"
	"fraudnet.ai/internal/auth"
	"fraudnet.ai/internal/fraud"
	"fraudnet.ai/internal/obs"
	"fraudnet.ai/internal/ratelimit"
)

// ReadyProbe checks the backing stores a request would touch.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	session    *auth.Service
	users      auth.UserStore
	limiter    ratelimit.Limiter
	policies   *ratelimit.PolicySet
	auditor    *audit.Logger
	scorer     fraud.Scorer
	txs        fraud.TransactionStore
	readyProbe ReadyProbe
	version    string
}

type Config struct {
	Session      *auth.Service
	Users        auth.UserStore
	Limiter      ratelimit.Limiter
	Policies     *ratelimit.PolicySet
	Auditor      *audit.Logger
	Scorer       fraud.Scorer
	Transactions fraud.TransactionStore
	ReadyProbe   ReadyProbe
	Version      string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		session:    cfg.Session,
		users:      cfg.Users,
		limiter:    cfg.Limiter,
		policies:   cfg.Policies,
		auditor:    cfg.Auditor,
		scorer:     cfg.Scorer,
		txs:        cfg.Transactions,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
	}
	if a.policies == nil {
		a.policies = ratelimit.DefaultPolicySet()
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// credential endpoints sit behind a per-IP limiter, not the identity
	// limiter: the caller has no identity yet.
	authLimited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, 10, 5)
	}
	a.mux.Handle("/auth/login", authLimited(a.handleLogin))
	a.mux.Handle("/auth/refresh", authLimited(a.handleRefresh))
	a.mux.Handle("/auth/logout", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "auth.logout", class: ratelimit.ClassAuth, mutating: true,
		}, a.handleLogout),
	}))
	a.mux.Handle("/auth/revoke", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "auth.revoke", capability: &auth.CapUsersWrite,
			class: ratelimit.ClassWrite, mutating: true,
		}, a.handleRevoke),
	}))

	a.mux.Handle("/v1/me", byMethod(map[string]http.HandlerFunc{
		http.MethodGet: a.protect(route{
			action: "me.read", class: ratelimit.ClassRead,
		}, a.handleMe),
	}))

	a.mux.Handle("/v1/users", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "users.create", capability: &auth.CapUsersWrite,
			class: ratelimit.ClassWrite, mutating: true,
		}, a.handleCreateUser),
		http.MethodGet: a.protect(route{
			action: "users.list", capability: &auth.CapUsersRead,
			class: ratelimit.ClassRead,
		}, a.handleListUsers),
	}))
	a.mux.HandleFunc("/v1/users/", a.userResourceDispatch())

	a.mux.Handle("/v1/apikeys", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "apikeys.create", capability: &auth.CapUsersWrite,
			class: ratelimit.ClassWrite, mutating: true,
		}, a.handleCreateAPIKey),
	}))
	a.mux.Handle("/v1/apikeys/", byMethod(map[string]http.HandlerFunc{
		http.MethodDelete: a.protect(route{
			action: "apikeys.delete", capability: &auth.CapUsersWrite,
			class: ratelimit.ClassWrite, mutating: true,
		}, a.handleDeleteAPIKey),
	}))

	a.mux.Handle("/v1/transactions", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "transactions.create", capability: &auth.CapTransactionsWrite,
			class: ratelimit.ClassWrite, mutating: true,
		}, a.handleCreateTransaction),
		http.MethodGet: a.protect(route{
			action: "transactions.list", capability: &auth.CapTransactionsRead,
			class: ratelimit.ClassRead,
		}, a.handleListTransactions),
	}))
	a.mux.Handle("/v1/transactions/bulk", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "transactions.bulk_create", capability: &auth.CapTransactionsWrite,
			class: ratelimit.ClassBulk, mutating: true,
		}, a.handleBulkTransactions),
	}))

	a.mux.Handle("/v1/models", byMethod(map[string]http.HandlerFunc{
		http.MethodGet: a.protect(route{
			action: "models.read", capability: &auth.CapModelsRead,
			class: ratelimit.ClassRead,
		}, a.handleModels),
	}))
	a.mux.Handle("/v1/models/train", byMethod(map[string]http.HandlerFunc{
		http.MethodPost: a.protect(route{
			action: "models.train", capability: &auth.CapModelsWrite,
			class: ratelimit.ClassTrain, mutating: true,
		}, a.handleTrain),
	}))

	a.mux.Handle("/v1/audit/verify", byMethod(map[string]http.HandlerFunc{
		http.MethodGet: a.protect(route{
			action: "audit.verify", capability: &auth.CapAuditRead,
			class: ratelimit.ClassRead,
		}, a.handleAuditVerify),
	}))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with the ambient middleware stack.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// byMethod dispatches on the HTTP method and answers 405 with an Allow
// header otherwise.
func byMethod(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.Method]; ok {
			h(w, r)
			return
		}
		methodNotAllowed(w, r, allowed...)
	}
}

// userResourceDispatch routes /v1/users/{id}[/role|/password]. The id is
// re-parsed inside the business handlers; this layer only picks the
// protected pipeline for the operation.
func (a *API) userResourceDispatch() http.HandlerFunc {
	updateRole := a.protect(route{
		action: "users.update_role", capability: &auth.CapUsersWrite,
		class: ratelimit.ClassWrite, mutating: true,
	}, a.handleUpdateUserRole)
	// Password changes allow self-service, so the role check happens in
	// the handler rather than the capability table.
	updatePassword := a.protect(route{
		action: "users.update_password",
		class:  ratelimit.ClassWrite, mutating: true,
	}, a.handleUpdateUserPassword)
	deactivate := a.protect(route{
		action: "users.deactivate", capability: &auth.CapUsersWrite,
		class: ratelimit.ClassWrite, mutating: true,
	}, a.handleDeactivateUser)
	get := a.protect(route{
		action: "users.read", capability: &auth.CapUsersRead,
		class: ratelimit.ClassRead,
	}, a.handleGetUser)

	return func(w http.ResponseWriter, r *http.Request) {
		_, sub, ok := splitUserPath(r.URL.Path)
		if !ok {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		switch {
		case sub == "" && r.Method == http.MethodGet:
			get(w, r)
		case sub == "" && r.Method == http.MethodDelete:
			deactivate(w, r)
		case sub == "role" && r.Method == http.MethodPut:
			updateRole(w, r)
		case sub == "password" && r.Method == http.MethodPut:
			updatePassword(w, r)
		case sub == "role" || sub == "password":
			methodNotAllowed(w, r, http.MethodPut)
		default:
			methodNotAllowed(w, r, http.MethodDelete, http.MethodGet)
		}
	}
}

// splitUserPath parses /v1/users/{id} and /v1/users/{id}/{sub}.
func splitUserPath(path string) (id, sub string, ok bool) {
	rest := strings.TrimPrefix(path, "/v1/users/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

// --- public handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fraudnet-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "fraudnet-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
