package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/device"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/principal"
	"github.com/atelierhq/atelier/internal/token"
)

const (
	deviceA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	deviceB = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

type fixture struct {
	gateway *Gateway
	codec   *token.Codec
	store   *principal.Store
	member  *principal.Principal
}

func newFixture(t *testing.T, manual []authz.ManualRule) *fixture {
	t.Helper()
	db := docstore.NewMemory()
	ctx := context.Background()

	role, err := db.Collection("roles").Insert(ctx, docstore.Document{
		"name": "Member",
		"access": []any{
			map[string]any{"path": "/contacts", "methods": []any{"GET"}},
			map[string]any{"path": "/contacts/:id", "methods": []any{"GET"}},
			map[string]any{"path": "/members/auth/reset-password", "methods": []any{"POST"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Collection("roles").Insert(ctx, docstore.Document{
		"name": "Public",
		"access": []any{
			map[string]any{"path": "/open", "methods": []any{"GET"}},
		},
	}); err != nil {
		t.Fatal(err)
	}

	store := principal.NewStore(db)
	member, err := store.Create(ctx, principal.KindMember, docstore.Document{
		"email":  "jo@example.com",
		"status": "active",
		"role":   role.ID(),
	})
	if err != nil {
		t.Fatal(err)
	}

	codec := token.NewCodec("gateway-test-secret")
	return &fixture{
		gateway: New(codec, store, manual),
		codec:   codec,
		store:   store,
		member:  member,
	}
}

// login issues an auth token for the fixture member from the given
// device and persists the trust record.
func (f *fixture) login(t *testing.T, ua string, at time.Time) string {
	t.Helper()
	access := device.NewAccessRecord(ua, "10.0.0.1", at)
	raw, err := principal.IssueAuthToken(f.codec, f.member, access)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Save(context.Background(), f.member); err != nil {
		t.Fatal(err)
	}
	return raw
}

func okHandler() (http.Handler, *bool) {
	called := new(bool)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}), called
}

func serve(f *fixture, r *http.Request, next http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.gateway.Middleware(next).ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope apperr.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return envelope.Code
}

func TestMissingUserAgent(t *testing.T) {
	f := newFixture(t, nil)
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	w := serve(f, r, next)
	if w.Code != http.StatusUnauthorized || *called {
		t.Fatalf("status = %d, called = %v", w.Code, *called)
	}
	if code := errorCode(t, w); code != apperr.CodeMissingAuthorization {
		t.Fatalf("code = %q", code)
	}
}

func TestAuthorizedSameDevice(t *testing.T) {
	f := newFixture(t, nil)
	raw := f.login(t, deviceA, time.Now())
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	r.Header.Set("User-Agent", deviceA)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := serve(f, r, next)
	if w.Code != http.StatusOK || !*called {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestDeviceMismatchRejected(t *testing.T) {
	f := newFixture(t, nil)
	raw := f.login(t, deviceA, time.Now())
	next, called := okHandler()

	// Device A's token presented with device B's user-agent.
	r := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	r.Header.Set("User-Agent", deviceB)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := serve(f, r, next)
	if w.Code != http.StatusUnauthorized || *called {
		t.Fatalf("status = %d, called = %v", w.Code, *called)
	}
	if code := errorCode(t, w); code != apperr.CodeInvalidAuth {
		t.Fatalf("code = %q", code)
	}
}

func TestReplayedTokenAfterRotation(t *testing.T) {
	f := newFixture(t, nil)
	old := f.login(t, deviceA, time.Now().Add(-time.Hour))

	// Logout removes the trust entry; a later login records a fresh one.
	f.member.SetAccess(device.Remove(device.NewAccessRecord(deviceA, "10.0.0.1", time.Now()), f.member.Access()))
	if err := f.store.Save(context.Background(), f.member); err != nil {
		t.Fatal(err)
	}
	f.login(t, deviceA, time.Now())

	next, called := okHandler()
	r := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	r.Header.Set("User-Agent", deviceA)
	r.Header.Set("Authorization", "Bearer "+old)
	w := serve(f, r, next)
	if w.Code != http.StatusUnauthorized || *called {
		t.Fatalf("replayed token accepted: status = %d", w.Code)
	}
}

func TestResetTokenOnAuthRoute(t *testing.T) {
	f := newFixture(t, nil)
	raw, err := principal.IssueResetToken(f.codec, f.member)
	if err != nil {
		t.Fatal(err)
	}
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	r.Header.Set("User-Agent", deviceA)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := serve(f, r, next)
	if w.Code != http.StatusUnauthorized || *called {
		t.Fatalf("reset token accepted on auth route: %d", w.Code)
	}
	if code := errorCode(t, w); code != apperr.CodeInvalidAuth {
		t.Fatalf("code = %q", code)
	}
}

func TestResetAuthAcceptsResetToken(t *testing.T) {
	f := newFixture(t, nil)
	raw, err := principal.IssueResetToken(f.codec, f.member)
	if err != nil {
		t.Fatal(err)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := FromContext(r.Context())
		if !ok || auth.Principal.ID() != f.member.ID() {
			t.Error("principal not attached")
		}
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/members/auth/reset-password", nil)
	r.Header.Set("User-Agent", deviceA)
	r.Header.Set("Authorization", "Bearer "+raw)
	f.gateway.ResetAuth(next).ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("reset auth rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestDisabledAccount(t *testing.T) {
	f := newFixture(t, nil)
	raw := f.login(t, deviceA, time.Now())
	f.member.Doc["status"] = "blocked"
	if err := f.store.Save(context.Background(), f.member); err != nil {
		t.Fatal(err)
	}
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	r.Header.Set("User-Agent", deviceA)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := serve(f, r, next)
	if w.Code != http.StatusBadRequest || *called {
		t.Fatalf("status = %d", w.Code)
	}
	if code := errorCode(t, w); code != apperr.CodeDisabledAccount {
		t.Fatalf("code = %q", code)
	}
}

func TestForbiddenPath(t *testing.T) {
	f := newFixture(t, nil)
	raw := f.login(t, deviceA, time.Now())
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodDelete, "/contacts/42", nil)
	r.Header.Set("User-Agent", deviceA)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := serve(f, r, next)
	if w.Code != http.StatusForbidden || *called {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPublicRoleAccess(t *testing.T) {
	f := newFixture(t, nil)
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodGet, "/open", nil)
	r.Header.Set("User-Agent", deviceA)
	w := serve(f, r, next)
	if w.Code != http.StatusOK || !*called {
		t.Fatalf("public route rejected: %d %s", w.Code, w.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "/contacts", nil)
	r.Header.Set("User-Agent", deviceA)
	w = serve(f, r, next)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous non-public route = %d", w.Code)
	}
}

func TestManualRuleBypass(t *testing.T) {
	manual := []authz.ManualRule{
		{Path: "/members/auth/login", Methods: []string{"POST"}},
		{Path: "/gated/*", Methods: []string{"GET"}, RoleAccess: true},
	}
	f := newFixture(t, manual)
	next, called := okHandler()

	r := httptest.NewRequest(http.MethodPost, "/members/auth/login", nil)
	r.Header.Set("User-Agent", deviceA)
	w := serve(f, r, next)
	if w.Code != http.StatusOK || !*called {
		t.Fatalf("manual open route rejected: %d", w.Code)
	}

	// RoleAccess rules still require full authentication.
	r = httptest.NewRequest(http.MethodGet, "/gated/area", nil)
	r.Header.Set("User-Agent", deviceA)
	w = serve(f, r, next)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("role-gated manual route = %d", w.Code)
	}
}

func TestClientInfo(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("User-Agent", deviceA)
	r.RemoteAddr = "192.0.2.10:4242"

	ua, ip := ClientInfo(r)
	if ua != deviceA || ip != "192.0.2.10" {
		t.Fatalf("ua=%q ip=%q", ua, ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if _, ip := ClientInfo(r); ip != "203.0.113.7" {
		t.Fatalf("forwarded ip = %q", ip)
	}
}
