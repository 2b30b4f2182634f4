package authz

import (
	"encoding/json"
	"os"
	"strings"
)

// ManualRule short-circuits the gateway for a path: when RoleAccess is
// true the role check still runs against the matched rule's methods,
// otherwise the request is waved through entirely.
type ManualRule struct {
	Path       string   `json:"path"`
	Methods    []string `json:"methods"`
	RoleAccess bool     `json:"roleAccess"`
}

// LoadManualRules reads a JSON rule file. An empty path yields no rules.
func LoadManualRules(path string) ([]ManualRule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []ManualRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// MatchManual returns the first manual rule covering path and method.
func MatchManual(rules []ManualRule, path, method string) (ManualRule, bool) {
	for _, rule := range rules {
		if MatchPattern(rule.Path, path) && containsMethod(rule.Methods, method) {
			return rule, true
		}
	}
	return ManualRule{}, false
}
