package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/mailer"
)

const testUA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last() (mailer.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return mailer.Message{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type testEnv struct {
	api     *API
	handler http.Handler
	db      docstore.Store
	mail    *recordingMailer
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := docstore.NewMemory()
	ctx := context.Background()

	_, err := db.Collection("roles").Insert(ctx, docstore.Document{
		"name": "Member",
		"access": []any{
			map[string]any{"path": "/members/auth/*", "methods": []any{"GET", "POST", "PUT"}},
			map[string]any{"path": "/contacts", "methods": []any{"GET"}},
			map[string]any{"path": "/list-paths", "methods": []any{"GET"}},
			map[string]any{"path": "/list-methods", "methods": []any{"GET"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	role, err := db.Collection("roles").FindOne(ctx, docstore.Filter{}.Where("name", "Member"))
	if err != nil {
		t.Fatal(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("initial-pass"), 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Collection("members").Insert(ctx, docstore.Document{
		"email":    "jo@example.com",
		"password": string(hash),
		"status":   "active",
		"role":     role.ID(),
		"details":  map[string]any{"firstName": "Jo"},
	}); err != nil {
		t.Fatal(err)
	}

	manual := []authz.ManualRule{
		{Path: "/members/auth/login", Methods: []string{"POST"}},
		{Path: "/members/auth/register", Methods: []string{"POST"}},
		{Path: "/members/auth/forgot-password", Methods: []string{"POST"}},
		{Path: "/members/auth/reset-password", Methods: []string{"POST"}},
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Auth.JWTSecret = "httpapi-test-secret"
	cfg.Auth.ClientURL = "https://app.example.com"

	mail := &recordingMailer{}
	api := New(cfg, db, mail, manual, "test")
	return &testEnv{
		api:     api,
		handler: api.Handler(),
		db:      db,
		mail:    mail,
	}
}

func (e *testEnv) do(method, target, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("User-Agent", testUA)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/members/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatal("no token in login response")
	}
	return token
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	// Operational endpoints bypass the gateway, no User-Agent needed.
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if decode(t, w)["service"] != "atelier-api" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestLoginMeLogout(t *testing.T) {
	e := newEnv(t)
	token := e.login(t, "jo@example.com", "initial-pass")

	w := e.do(http.MethodGet, "/members/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me = %d %s", w.Code, w.Body.String())
	}
	me := decode(t, w)
	if me["email"] != "jo@example.com" {
		t.Fatalf("me = %+v", me)
	}
	if _, ok := me["password"]; ok {
		t.Fatal("password leaked")
	}

	w = e.do(http.MethodPost, "/members/auth/logout", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout = %d", w.Code)
	}

	// The trust record is gone; the old token no longer authenticates.
	w = e.do(http.MethodGet, "/members/auth/me", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d", w.Code)
	}
}

func TestLoginFailures(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/members/auth/login", "", map[string]string{"password": "x"})
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "missing_email" {
		t.Fatalf("missing email: %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/members/auth/login", "", map[string]string{
		"email": "jo@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized || decode(t, w)["code"] != "incorrect_credentials" {
		t.Fatalf("wrong password: %d %s", w.Code, w.Body.String())
	}
}

func TestUpdateMe(t *testing.T) {
	e := newEnv(t)
	token := e.login(t, "jo@example.com", "initial-pass")

	w := e.do(http.MethodPut, "/members/auth/me", token, map[string]any{
		"details.lastName": "Doe",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update me = %d %s", w.Code, w.Body.String())
	}
	details, _ := decode(t, w)["details"].(map[string]any)
	if details["lastName"] != "Doe" || details["firstName"] != "Jo" {
		t.Fatalf("details = %+v", details)
	}
}

func TestRegister(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/members/auth/register", "", map[string]any{
		"email":    "new@example.com",
		"password": "fresh-pass",
		"details":  map[string]any{"firstName": "New"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["token"] == "" {
		t.Fatal("no token")
	}

	// The default Member role was assigned and a contact seeded.
	ctx := context.Background()
	member, err := e.db.Collection("members").FindOne(ctx, docstore.Filter{}.Where("email", "new@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if roleID, _ := member["role"].(string); roleID == "" {
		t.Fatal("member role not assigned")
	}
	if _, err := e.db.Collection("contacts").FindOne(ctx, docstore.Filter{}.Where("email", "new@example.com")); err != nil {
		t.Fatalf("contact not created: %v", err)
	}
	if msg, ok := e.mail.last(); !ok || msg.To != "new@example.com" {
		t.Fatalf("welcome mail = %+v ok=%v", msg, ok)
	}

	// The returned token authenticates immediately.
	token, _ := body["token"].(string)
	if w := e.do(http.MethodGet, "/members/auth/me", token, nil); w.Code != http.StatusOK {
		t.Fatalf("me after register = %d %s", w.Code, w.Body.String())
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/members/auth/forgot-password", "", map[string]string{
		"email": "jo@example.com",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("forgot = %d %s", w.Code, w.Body.String())
	}
	msg, ok := e.mail.last()
	if !ok || msg.To != "jo@example.com" {
		t.Fatalf("reset mail = %+v", msg)
	}

	resetToken := extractToken(t, msg.Body)

	// Mismatched confirmation is rejected before any write.
	w = e.do(http.MethodPost, "/members/auth/reset-password", resetToken, map[string]string{
		"password":        "abc",
		"confirmPassword": "xyz",
	})
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "passwords_do_not_match" {
		t.Fatalf("mismatch = %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/members/auth/reset-password", resetToken, map[string]string{
		"password":        "next-pass-1",
		"confirmPassword": "next-pass-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d %s", w.Code, w.Body.String())
	}

	e.login(t, "jo@example.com", "next-pass-1")

	// A reset token is single-purpose: it cannot reach auth routes.
	if w := e.do(http.MethodGet, "/members/auth/me", resetToken, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("reset token on auth route = %d", w.Code)
	}
}

func TestListPathsAndMethods(t *testing.T) {
	e := newEnv(t)
	token := e.login(t, "jo@example.com", "initial-pass")

	w := e.do(http.MethodGet, "/list-paths", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list-paths = %d %s", w.Code, w.Body.String())
	}
	var paths []map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &paths); err != nil {
		t.Fatal(err)
	}
	keys := map[string]bool{}
	for _, p := range paths {
		keys[p["key"]] = true
	}
	if !keys["/contacts"] || !keys["/contacts/{id}"] {
		t.Fatalf("resource routes missing from %v", keys)
	}
	// Fully manual-open endpoints are not listed.
	if keys["/members/auth/login"] {
		t.Fatal("manual-open route should be filtered")
	}

	w = e.do(http.MethodGet, "/list-methods?path=/contacts", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list-methods = %d %s", w.Code, w.Body.String())
	}
	var methods []map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &methods); err != nil {
		t.Fatal(err)
	}
	if len(methods) == 0 {
		t.Fatal("no methods listed")
	}

	w = e.do(http.MethodGet, "/list-methods", token, nil)
	if w.Code != http.StatusNotFound || decode(t, w)["code"] != "missing_path" {
		t.Fatalf("missing path = %d %s", w.Code, w.Body.String())
	}
}

// extractToken pulls the resetPasswordToken query value out of the
// emailed link.
func extractToken(t *testing.T, body string) string {
	t.Helper()
	marker := "resetPasswordToken="
	i := bytes.Index([]byte(body), []byte(marker))
	if i < 0 {
		t.Fatalf("no token in mail body: %q", body)
	}
	rest := body[i+len(marker):]
	for j := 0; j < len(rest); j++ {
		if rest[j] == '\n' || rest[j] == ' ' {
			return rest[:j]
		}
	}
	return rest
}
