// Package httpapi assembles the HTTP surface: operational endpoints,
// per-kind auth routes, and the registered resources, all behind the
// authentication gateway and the shared middleware chain.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/gateway"
	"github.com/atelierhq/atelier/internal/mailer"
	"github.com/atelierhq/atelier/internal/obs"
	"github.com/atelierhq/atelier/internal/principal"
	"github.com/atelierhq/atelier/internal/resource"
	"github.com/atelierhq/atelier/internal/token"
)

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	store      docstore.Store
	principals *principal.Store
	codec      *token.Codec
	gw         *gateway.Gateway
	mail       mailer.Mailer
	manual     []authz.ManualRule
	cfg        *config.Config
	version    string
}

// New wires the full route table.
func New(cfg *config.Config, store docstore.Store, mail mailer.Mailer, manual []authz.ManualRule, version string) *API {
	codec := token.NewCodec(cfg.Auth.JWTSecret)
	principals := principal.NewStore(store)

	a := &API{
		router:     mux.NewRouter(),
		store:      store,
		principals: principals,
		codec:      codec,
		gw:         gateway.New(codec, principals, manual),
		mail:       mail,
		manual:     manual,
		cfg:        cfg,
		version:    version,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// Operational endpoints sit outside the gateway.
	a.router.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := a.router.PathPrefix("/").Subrouter()
	api.Use(a.gw.Middleware)

	api.HandleFunc("/", a.root).Methods(http.MethodGet)

	a.authRoutes(api, principal.KindUser, "users")
	a.authRoutes(api, principal.KindMember, "members")
	api.HandleFunc("/members/auth/register", a.register).Methods(http.MethodPost)

	resource.New(a.store, "users",
		resource.WithHidden("password"),
		resource.WithRef("role", "roles"),
	).Register(api)
	resource.New(a.store, "members",
		resource.WithHidden("password", "access"),
		resource.WithRef("role", "roles"),
	).Register(api)
	resource.New(a.store, "roles").Register(api)
	resource.New(a.store, "contacts").Register(api)
	resource.New(a.store, "logs").Register(api)
	resource.New(a.store, "settings",
		resource.WithI18n("title", "description"),
	).RegisterSingleton(api)

	api.HandleFunc("/list-paths", a.listPaths).Methods(http.MethodGet)
	api.HandleFunc("/list-methods", a.listMethods).Methods(http.MethodGet)
}

func (a *API) authRoutes(router *mux.Router, kind principal.Kind, prefix string) {
	base := "/" + prefix + "/auth"
	router.HandleFunc(base+"/login", a.login(kind)).Methods(http.MethodPost)
	router.HandleFunc(base+"/logout", a.logout).Methods(http.MethodPost)
	router.HandleFunc(base+"/me", a.getMe).Methods(http.MethodGet)
	router.HandleFunc(base+"/me", a.updateMe).Methods(http.MethodPut)
	router.HandleFunc(base+"/forgot-password", a.forgotPassword(kind)).Methods(http.MethodPost)
	router.Handle(base+"/reset-password", a.gw.ResetAuth(http.HandlerFunc(a.resetPassword))).Methods(http.MethodPost)
}

// Handler returns the server handler with the middleware chain applied.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = obs.Instrument(h)
	h = RateLimit(h, a.cfg.Server.RateBurst, a.cfg.Server.RatePerSecond)
	h = MaxBodyBytes(h, a.cfg.Server.MaxBodyBytes)
	h = CORS(h, a.cfg.Auth.ClientURL)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

// --- operational handlers ---

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "atelier-api",
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"project": "atelier-api",
		"version": a.version,
		"date":    time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope, known := apperr.Handle(err)
	if !known {
		obs.Error("request failed", err, nil)
	}
	writeJSON(w, status, envelope)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.CodeCast, "Malformed request body", http.StatusBadRequest)
	}
	return nil
}
