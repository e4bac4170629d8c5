package web

// This file describes the JSON web server for this project.
//
// Note that modules called by this server should provide self-describing
// errors since these are sent directly to an internal server error func:
//
//	web.serverError(w, r, err)
//
// This web server also sets out each endpoint handler as a HandlerFunc. This
// allows for the router to provide arguments to the handler, as discussed in
// Mat Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// Helper functions, such as `serverError` and `clientError`, are at the end
// of the file.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"gradation/config"
	"gradation/db"
	"gradation/syncer"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// sessionTenantKey is the session key under which the resolved tenant name
// is stored.
const sessionTenantKey = "tenant"

// ctxKey is the private context key type for request-scoped values.
type ctxKey int

const ctxTenantKey ctxKey = iota

// WebApp is the configuration object for the web server.
type WebApp struct {
	log      *slog.Logger
	cfg      *config.Config
	db       *db.DB
	engine   *syncer.Engine
	sessions *scs.SessionManager
	server   *http.Server

	// tenantLocks serializes sync runs per tenant: concurrent syncs of one
	// tenant would race on the same cursors.
	mu          sync.Mutex
	tenantLocks map[int64]*sync.Mutex
}

// New initialises a WebApp.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	store *db.DB,
	engine *syncer.Engine,
) (*WebApp, error) {

	if store == nil || engine == nil {
		return nil, errors.New("web app requires a store and a sync engine")
	}

	sessions := scs.New()
	sessions.Lifetime = cfg.SessionLifetime
	sessions.Cookie.Name = cfg.SessionCookieName
	sessions.Cookie.HttpOnly = true
	sessions.Cookie.SameSite = http.SameSiteLaxMode

	server := &http.Server{
		Addr:              cfg.Web.ListenAddress,
		ReadHeaderTimeout: time.Duration(30 * time.Second),
		WriteTimeout:      time.Duration(5 * time.Minute), // sync runs page through the remote
		MaxHeaderBytes:    1 << 19,                        // 100k ish
	}

	webApp := &WebApp{
		log:         logger,
		cfg:         cfg,
		db:          store,
		engine:      engine,
		sessions:    sessions,
		server:      server,
		tenantLocks: make(map[int64]*sync.Mutex),
	}
	return webApp, nil
}

// StartServer starts a WebApp.
func (web *WebApp) StartServer() error {
	web.server.Handler = web.routes()
	web.log.Info(fmt.Sprintf("Starting server on %s", web.cfg.Web.ListenAddress))
	return web.server.ListenAndServe()
}

// routes connects all of the endpoints and provides middleware.
func (web *WebApp) routes() http.Handler {

	r := mux.NewRouter()

	r.Handle(
		"/api/tenants",
		web.handleTenantRegister(),
	).Methods("POST")
	r.Handle(
		"/api/session",
		web.handleSessionStart(),
	).Methods("POST")

	// Sync operations.
	r.Handle(
		"/api/sync/contacts",
		web.tenantRequired(web.handleSyncContacts()),
	).Methods("POST")
	r.Handle(
		"/api/sync/companies",
		web.tenantRequired(web.handleSyncCompanies()),
	).Methods("POST")
	r.Handle(
		"/api/sync/deals",
		web.tenantRequired(web.handleSyncDeals()),
	).Methods("POST")
	r.Handle(
		"/api/sync/deals/latest",
		web.tenantRequired(web.handleSyncDealsLatest()),
	).Methods("POST")
	r.Handle(
		"/api/sync/all",
		web.tenantRequired(web.handleSyncAll()),
	).Methods("POST")

	// Summary.
	r.Handle(
		"/api/summary/refresh",
		web.tenantRequired(web.handleSummaryRefresh()),
	).Methods("POST")
	r.Handle(
		"/api/summary",
		web.tenantRequired(web.handleSummaryGet()),
	).Methods("GET")

	// Local mirror read-back.
	r.Handle(
		"/api/contacts",
		web.tenantRequired(web.handleContactsGet()),
	).Methods("GET")
	r.Handle(
		"/api/companies",
		web.tenantRequired(web.handleCompaniesGet()),
	).Methods("GET")
	r.Handle(
		"/api/deals",
		web.tenantRequired(web.handleDealsGet()),
	).Methods("GET")

	// On-call rota.
	r.Handle(
		"/api/companies/on-call",
		web.tenantRequired(web.handleCompaniesOnCall()),
	).Methods("POST")

	logging := handlers.LoggingHandler(web.accessLog(), r)
	return web.sessions.LoadAndSave(logging)
}

// accessLog opens the configured access log for appending, falling back to
// stdout.
func (web *WebApp) accessLog() *os.File {
	f, err := os.OpenFile(web.cfg.AccessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		web.log.Warn(fmt.Sprintf("could not open access log %q: %v", web.cfg.AccessLogPath, err))
		return os.Stdout
	}
	return f
}

// tenantRequired resolves the session's tenant and passes it to the wrapped
// handler via the request context. Without a session tenant the request is
// rejected, unless the deployment is configured with an implicit single
// tenant.
func (web *WebApp) tenantRequired(next http.Handler) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		name := web.sessions.GetString(r.Context(), sessionTenantKey)
		if name == "" {
			name = web.cfg.SingleTenant
		}
		if name == "" {
			web.clientError(w, "no tenant session established", http.StatusUnauthorized)
			return
		}

		tenant, err := web.db.TenantResolve(r.Context(), name)
		if errors.Is(err, db.ErrTenantNotFound) {
			web.clientError(w, fmt.Sprintf("tenant %q not found", name), http.StatusUnauthorized)
			return
		}
		if err != nil {
			web.serverError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxTenantKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestTenant returns the tenant resolved by the tenantRequired
// middleware.
func requestTenant(r *http.Request) db.Tenant {
	tenant, _ := r.Context().Value(ctxTenantKey).(db.Tenant)
	return tenant
}

// lockTenant takes the sync lock for a tenant, returning its unlock func.
func (web *WebApp) lockTenant(tenantID int64) func() {
	web.mu.Lock()
	lock, ok := web.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		web.tenantLocks[tenantID] = lock
	}
	web.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// handleTenantRegister serves POST /api/tenants, registering a tenant name
// with its webhook link.
func (web *WebApp) handleTenantRegister() http.Handler {

	type registerRequest struct {
		Name string `json:"name"`
		Link string `json:"link"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.clientError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.Link == "" {
			web.clientError(w, "name and link are required", http.StatusBadRequest)
			return
		}

		id, err := web.db.TenantRegister(r.Context(), req.Name, req.Link)
		if errors.Is(err, db.ErrTenantExists) {
			web.clientError(w, fmt.Sprintf("tenant %q already registered", req.Name), http.StatusConflict)
			return
		}
		if err != nil {
			web.serverError(w, r, err)
			return
		}

		web.writeJSON(w, http.StatusCreated, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("tenant %q registered", req.Name),
			Data:    map[string]any{"tenant_id": id},
		})
	})
}

// handleSessionStart serves POST /api/session, resolving a tenant into the
// caller's session.
func (web *WebApp) handleSessionStart() http.Handler {

	type sessionRequest struct {
		Name string `json:"name"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.clientError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		tenant, err := web.db.TenantResolve(r.Context(), req.Name)
		if errors.Is(err, db.ErrTenantNotFound) {
			web.clientError(w, fmt.Sprintf("tenant %q not found", req.Name), http.StatusNotFound)
			return
		}
		if err != nil {
			web.serverError(w, r, err)
			return
		}

		// Renew the token on privilege change.
		if err := web.sessions.RenewToken(r.Context()); err != nil {
			web.serverError(w, r, err)
			return
		}
		web.sessions.Put(r.Context(), sessionTenantKey, tenant.Name)

		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("session established for tenant %q", tenant.Name),
		})
	})
}

// handleSyncContacts serves POST /api/sync/contacts, a full contact sync.
func (web *WebApp) handleSyncContacts() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)
		defer web.lockTenant(tenant.ID)()

		result, err := web.engine.SyncContacts(r.Context(), tenant)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("synced contacts: %d fetched, %d inserted", result.Fetched, result.Inserted),
			Data:    result,
		})
	})
}

// handleSyncCompanies serves POST /api/sync/companies, a full company sync.
func (web *WebApp) handleSyncCompanies() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)
		defer web.lockTenant(tenant.ID)()

		result, err := web.engine.SyncCompanies(r.Context(), tenant)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("synced companies: %d fetched, %d inserted", result.Fetched, result.Inserted),
			Data:    result,
		})
	})
}

// handleSyncDeals serves POST /api/sync/deals, a full date-mode deal sync
// from the epoch sentinel.
func (web *WebApp) handleSyncDeals() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)
		defer web.lockTenant(tenant.ID)()

		result, err := web.engine.SyncDealsFromDate(r.Context(), tenant, "")
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("synced deals: %d fetched, %d inserted", result.Fetched, result.Inserted),
			Data:    result,
		})
	})
}

// handleSyncDealsLatest serves POST /api/sync/deals/latest, a deal sync from
// the summary's date cursor.
func (web *WebApp) handleSyncDealsLatest() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)
		defer web.lockTenant(tenant.ID)()

		result, err := web.engine.SyncDealsSinceLastDate(r.Context(), tenant)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("synced latest deals: %d fetched, %d inserted", result.Fetched, result.Inserted),
			Data:    result,
		})
	})
}

// handleSyncAll serves POST /api/sync/all: an id-incremental sync of every
// entity kind followed by a summary refresh, returning the refreshed
// aggregates and the locally stored entities.
func (web *WebApp) handleSyncAll() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)
		defer web.lockTenant(tenant.ID)()
		ctx := r.Context()

		results, err := web.engine.SyncIncremental(ctx, tenant)
		if err != nil {
			web.serverError(w, r, err)
			return
		}

		summary, err := web.db.SummaryGet(ctx, tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		contacts, err := web.db.ContactsGet(ctx, tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		companies, err := web.db.CompaniesGet(ctx, tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		deals, err := web.db.DealsGet(ctx, tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}

		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: "synced all entity kinds",
			Data: map[string]any{
				"results":   results,
				"summary":   summary,
				"contacts":  contacts,
				"companies": companies,
				"deals":     deals,
			},
		})
	})
}

// handleSummaryRefresh serves POST /api/summary/refresh.
func (web *WebApp) handleSummaryRefresh() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)

		summary, err := web.engine.RefreshSummary(r.Context(), tenant)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: "summary refreshed",
			Data:    summary,
		})
	})
}

// handleSummaryGet serves GET /api/summary.
func (web *WebApp) handleSummaryGet() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)

		summary, err := web.db.SummaryGet(r.Context(), tenant.ID)
		if errors.Is(err, sql.ErrNoRows) {
			web.clientError(w, "summary has not been refreshed yet", http.StatusNotFound)
			return
		}
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: summary})
	})
}

// handleContactsGet serves GET /api/contacts from the local mirror.
func (web *WebApp) handleContactsGet() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)

		contacts, err := web.db.ContactsGet(r.Context(), tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: contacts})
	})
}

// handleCompaniesGet serves GET /api/companies from the local mirror.
func (web *WebApp) handleCompaniesGet() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)

		companies, err := web.db.CompaniesGet(r.Context(), tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: companies})
	})
}

// handleDealsGet serves GET /api/deals from the local mirror.
func (web *WebApp) handleDealsGet() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)

		deals, err := web.db.DealsGet(r.Context(), tenant.ID)
		if err != nil {
			web.serverError(w, r, err)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: deals})
	})
}

// handleCompaniesOnCall serves POST /api/companies/on-call, replacing the
// tenant's on-call rota from a form listing company ids and the owner.
func (web *WebApp) handleCompaniesOnCall() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := requestTenant(r)

		form, err := decodeOnCallForm(r)
		if err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = web.db.CompaniesMarkOnCall(r.Context(), tenant.ID, form.CompanyIDs, form.AssignedBy)
		if err != nil {
			web.clientError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		web.writeJSON(w, http.StatusOK, apiResponse{
			Status:  "ok",
			Message: fmt.Sprintf("%d companies marked on call", len(form.CompanyIDs)),
		})
	})
}

/* -------------------------------------------------------------------------- */
// Helpers
/* -------------------------------------------------------------------------- */

// apiResponse is the common JSON response envelope.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON writes data as a JSON response.
func (web *WebApp) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		web.log.Error(fmt.Sprintf("response encoding error: %v", err))
	}
}

// serverError logs and returns an internal server error. The error should
// contain the information needed for logging.
func (web *WebApp) serverError(w http.ResponseWriter, r *http.Request, err error) {
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	web.writeJSON(w, http.StatusInternalServerError, apiResponse{
		Status:  "error",
		Message: http.StatusText(http.StatusInternalServerError),
	})
}

// clientError returns a client error.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	web.writeJSON(w, status, apiResponse{Status: "error", Message: message})
}
