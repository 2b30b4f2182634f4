package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/users/01J9ZK2M3N4P5Q6R7S8T9V0W1X": "/users/:id",
		"/users/01J9ZK2M3N4P5Q6R7S8T9V0W1X/locales": "/users/:id/locales",
		"/members/auth/login":                       "/members/auth/login",
		"/contacts?_limit=10":                       "/contacts",
		"/roles/count":                              "/roles/count",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
