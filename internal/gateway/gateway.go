// Package gateway authenticates and authorizes every inbound request
// before it reaches a resource handler. The per-request flow: require a
// User-Agent, consult manual rules, extract and verify the bearer token,
// match the device fingerprint, load the principal, check account
// status, then run the role permit.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/device"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/obs"
	"github.com/atelierhq/atelier/internal/principal"
	"github.com/atelierhq/atelier/internal/token"
)

type ctxKey struct{}

// Auth is the request-scoped authentication result attached to context.
type Auth struct {
	Token     string
	Principal *principal.Principal
	Owner     principal.Kind
}

// FromContext returns the authentication result, if any. Requests
// admitted through manual rules or the Public role carry none.
func FromContext(ctx context.Context) (*Auth, bool) {
	auth, ok := ctx.Value(ctxKey{}).(*Auth)
	return auth, ok
}

// Gateway holds the collaborators shared by all middleware variants.
type Gateway struct {
	codec  *token.Codec
	store  *principal.Store
	manual []authz.ManualRule
}

func New(codec *token.Codec, store *principal.Store, manual []authz.ManualRule) *Gateway {
	return &Gateway{codec: codec, store: store, manual: manual}
}

// Middleware is the global gate applied to every route. Manual rules
// without a role override skip token processing entirely.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.UserAgent()) == "" {
			obs.AuthDecision("missing_authorization")
			writeError(w, apperr.MissingAuthorization())
			return
		}

		if rule, ok := authz.MatchManual(g.manual, r.URL.Path, r.Method); ok && !rule.RoleAccess {
			obs.AuthDecision("manual")
			next.ServeHTTP(w, r)
			return
		}

		g.authenticate(w, r, next, token.TypeAuth)
	})
}

// ResetAuth guards the password-reset route, which presents a reset
// token instead of an auth token. No device check applies.
func (g *Gateway) ResetAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.authenticate(w, r, next, token.TypeReset)
	})
}

func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request, next http.Handler, typ token.Type) {
	ctx := r.Context()

	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		if g.publicAccess(ctx, r) {
			obs.AuthDecision("public")
			next.ServeHTTP(w, r)
			return
		}
		obs.AuthDecision("missing_authorization")
		writeError(w, apperr.MissingAuthorization())
		return
	}

	raw := strings.TrimPrefix(authorization, "Bearer ")
	payload, err := g.codec.Verify(raw, typ)
	if err != nil {
		obs.AuthDecision("invalid_token")
		writeError(w, err)
		return
	}

	ua, ip := ClientInfo(r)
	reqAccess := device.NewAccessRecord(ua, ip, payload.IssuedAt)

	if typ == token.TypeAuth {
		if payload.Access == nil || !device.Same(reqAccess, *payload.Access, device.MatchOptions{}) {
			obs.AuthDecision("device_mismatch")
			writeError(w, apperr.InvalidAuthentication())
			return
		}
	}

	p, err := g.loadPrincipal(ctx, payload.Owner, payload.SubjectID)
	if err != nil {
		obs.AuthDecision("unknown_principal")
		writeError(w, err)
		return
	}

	if typ == token.TypeAuth && !device.HasAccess(reqAccess, p.Access(), device.MatchOptions{}) {
		obs.AuthDecision("revoked_device")
		writeError(w, apperr.InvalidAuthentication())
		return
	}

	if !authz.UsableStatus(p.Status()) {
		obs.AuthDecision("disabled_account")
		writeError(w, apperr.DisabledAccount())
		return
	}

	if err := authz.Permit(p.Role, p.Status(), r.URL.Path, r.Method); err != nil {
		obs.AuthDecision("forbidden")
		writeError(w, err)
		return
	}

	obs.AuthDecision("authorized")
	auth := &Auth{Token: raw, Principal: p, Owner: p.Kind}
	next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, auth)))
}

// publicAccess checks whether the Public role grants the anonymous
// request. A missing Public role grants nothing.
func (g *Gateway) publicAccess(ctx context.Context, r *http.Request) bool {
	role, err := g.store.RoleByName(ctx, authz.PublicRole)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			obs.Error("public role lookup failed", err, nil)
		}
		return false
	}
	return authz.HasRoleAccess(*role, r.URL.Path, r.Method)
}

func (g *Gateway) loadPrincipal(ctx context.Context, owner, id string) (*principal.Principal, error) {
	kind, ok := principal.ParseKind(owner)
	if !ok {
		return nil, apperr.InvalidAuthentication()
	}
	p, err := g.store.FindByID(ctx, kind, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperr.InvalidAuthentication()
		}
		return nil, err
	}
	return p, nil
}

// ClientInfo extracts the user-agent string and client IP used for
// device fingerprints. The first X-Forwarded-For hop wins over the
// socket address.
func ClientInfo(r *http.Request) (userAgent, ip string) {
	userAgent = r.UserAgent()
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		return userAgent, ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return userAgent, r.RemoteAddr
	}
	return userAgent, host
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope, known := apperr.Handle(err)
	if !known {
		obs.Error("gateway failure", err, nil)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
