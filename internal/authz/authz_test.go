package authz

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/atelierhq/atelier/internal/apperr"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/items/:id", "/items/42", true},
		{"/items/:id", "/items/ab-c", true},
		{"/items/:id", "/items/42/extra", false},
		{"/items/:id", "/items/", false},
		{"/items/*", "/items/a/b/c", true},
		{"/items/*", "/items/", false},
		{"/items", "/items", true},
		{"/items", "/items/1", false},
		{"/users/:id/roles/:rid", "/users/1/roles/2", true},
		{"/users/:id/roles/:rid", "/users/1/roles", false},
	}
	for _, tc := range cases {
		if got := MatchPattern(tc.pattern, tc.path); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestHasRoleAccessFirstMatchWins(t *testing.T) {
	role := Role{
		Name: "Member",
		Access: []Rule{
			{Path: "/contacts/:id", Methods: []string{"GET"}},
			{Path: "/contacts/*", Methods: []string{"GET", "PUT", "DELETE"}},
		},
	}
	// The first matching rule decides even when a later rule is broader.
	if HasRoleAccess(role, "/contacts/7", "PUT") {
		t.Fatal("expected first matching rule to deny PUT")
	}
	if !HasRoleAccess(role, "/contacts/7", "GET") {
		t.Fatal("expected GET allowed")
	}
	if !HasRoleAccess(role, "/contacts/7/notes", "DELETE") {
		t.Fatal("expected wildcard rule to allow nested DELETE")
	}
}

func TestHasRoleAccessMethodCaseInsensitive(t *testing.T) {
	role := Role{Access: []Rule{{Path: "/x", Methods: []string{"get"}}}}
	if !HasRoleAccess(role, "/x", "GET") {
		t.Fatal("expected case-insensitive method match")
	}
}

func TestPermit(t *testing.T) {
	member := &Role{Name: "Member", Access: []Rule{{Path: "/me", Methods: []string{"GET"}}}}
	admin := &Role{Name: AdminRole}

	if err := Permit(admin, "active", "/anything/at/all", "DELETE"); err != nil {
		t.Fatalf("admin bypass failed: %v", err)
	}
	if err := Permit(member, "active", "/me", "GET"); err != nil {
		t.Fatalf("expected permit, got %v", err)
	}
	if err := Permit(member, "active", "/me", "PUT"); !apperr.Is(err, apperr.CodeAccessForbidden) {
		t.Fatalf("expected access_forbidden, got %v", err)
	}
	if err := Permit(member, "blocked", "/me", "GET"); !apperr.Is(err, apperr.CodeAccessForbidden) {
		t.Fatalf("expected access_forbidden for blocked status, got %v", err)
	}
	if err := Permit(nil, "active", "/me", "GET"); !apperr.Is(err, apperr.CodeAccessForbidden) {
		t.Fatalf("expected access_forbidden for missing role, got %v", err)
	}
}

func TestLoadManualRules(t *testing.T) {
	rules := []ManualRule{
		{Path: "/auth/login", Methods: []string{"POST"}},
		{Path: "/docs/*", Methods: []string{"GET"}, RoleAccess: true},
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "manual.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadManualRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(loaded))
	}

	rule, ok := MatchManual(loaded, "/auth/login", "POST")
	if !ok || rule.RoleAccess {
		t.Fatalf("expected open manual rule, got %+v ok=%v", rule, ok)
	}
	rule, ok = MatchManual(loaded, "/docs/intro", "GET")
	if !ok || !rule.RoleAccess {
		t.Fatalf("expected role-gated manual rule, got %+v ok=%v", rule, ok)
	}
	if _, ok := MatchManual(loaded, "/auth/login", "GET"); ok {
		t.Fatal("method mismatch should not match")
	}
}

func TestLoadManualRulesEmptyPath(t *testing.T) {
	rules, err := LoadManualRules("")
	if err != nil || rules != nil {
		t.Fatalf("expected nil rules, got %v, %v", rules, err)
	}
}
