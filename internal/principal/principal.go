// Package principal models the two authenticated identity kinds and the
// shared behavior between them: credential checks, device access lists,
// and token issuance. A principal is a document plus a discriminant
// kind, not a type hierarchy.
package principal

import (
	"time"

	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/device"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/token"
)

// Kind discriminates the principal union. The value is embedded in
// tokens as the owner claim.
type Kind string

const (
	KindUser   Kind = "User"
	KindMember Kind = "Member"
)

// ParseKind maps a token owner claim back to a Kind.
func ParseKind(owner string) (Kind, bool) {
	switch Kind(owner) {
	case KindUser:
		return KindUser, true
	case KindMember:
		return KindMember, true
	}
	return "", false
}

// Collection returns the backing collection name for the kind.
func (k Kind) Collection() string {
	if k == KindMember {
		return "members"
	}
	return "users"
}

// Principal is one authenticated identity for the request lifetime.
// Role is populated by the store when the document carries a role
// reference; nil means the principal has no role.
type Principal struct {
	Kind Kind
	Doc  docstore.Document
	Role *authz.Role
}

func (p *Principal) ID() string {
	return p.Doc.ID()
}

func (p *Principal) Email() string {
	email, _ := p.Doc["email"].(string)
	return email
}

func (p *Principal) Status() string {
	status, _ := p.Doc["status"].(string)
	return status
}

// FirstName returns the details.firstName field when present. Used for
// email greetings.
func (p *Principal) FirstName() string {
	details, _ := p.Doc["details"].(map[string]any)
	name, _ := details["firstName"].(string)
	return name
}

// Access decodes the trusted device list from the document.
func (p *Principal) Access() []device.AccessRecord {
	raw, _ := p.Doc["access"].([]any)
	records := make([]device.AccessRecord, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, accessFromMap(m))
	}
	return records
}

// SetAccess writes the trusted device list back onto the document.
func (p *Principal) SetAccess(records []device.AccessRecord) {
	entries := make([]any, 0, len(records))
	for _, record := range records {
		entries = append(entries, accessToMap(record))
	}
	p.Doc["access"] = entries
}

func accessFromMap(m map[string]any) device.AccessRecord {
	record := device.AccessRecord{}
	if v, ok := m["device"].(string); ok {
		record.Device = device.Kind(v)
	}
	record.Info, _ = m["info"].(string)
	record.IP, _ = m["ip"].(string)
	if v, ok := m["createdAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			record.CreatedAt = t
		}
	}
	return record
}

func accessToMap(record device.AccessRecord) map[string]any {
	return map[string]any{
		"device":    string(record.Device),
		"info":      record.Info,
		"ip":        record.IP,
		"createdAt": record.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// IssueAuthToken issues an auth token bound to access and records the
// device as trusted unless an equivalent entry already exists under the
// time-ignored relation. Login always reactivates the account status.
// The caller is responsible for persisting the mutated principal.
func IssueAuthToken(codec *token.Codec, p *Principal, access device.AccessRecord) (string, error) {
	if !device.HasAccess(access, p.Access(), device.MatchOptions{IgnoreTime: true}) {
		p.SetAccess(append(p.Access(), access))
	}
	p.Doc["status"] = "active"

	return codec.Issue(token.Payload{
		SubjectID: p.ID(),
		Owner:     string(p.Kind),
		Type:      token.TypeAuth,
		Access:    &access,
		IssuedAt:  access.CreatedAt,
	}, 0)
}

// IssueResetToken issues a short-lived password-reset token.
func IssueResetToken(codec *token.Codec, p *Principal) (string, error) {
	return codec.Issue(token.Payload{
		SubjectID: p.ID(),
		Owner:     string(p.Kind),
		Type:      token.TypeReset,
	}, token.ResetTTL)
}

// IssueInviteToken issues a medium-lived invitation token.
func IssueInviteToken(codec *token.Codec, p *Principal) (string, error) {
	return codec.Issue(token.Payload{
		SubjectID: p.ID(),
		Owner:     string(p.Kind),
		Type:      token.TypeInvite,
	}, token.InviteTTL)
}

// Sanitize returns the client-visible copy of the principal document.
// The password hash never leaves the server; the role reference is kept
// only when the request populated it, and the access list only when the
// request selected it.
func Sanitize(p *Principal, populate, selects []string) docstore.Document {
	doc := p.Doc.Clone()
	delete(doc, "password")

	if contains(populate, "role") {
		if p.Role != nil {
			doc["role"] = map[string]any{
				"id":     p.Role.ID,
				"name":   p.Role.Name,
				"access": roleRules(p.Role),
			}
		}
	} else {
		delete(doc, "role")
	}

	if !contains(selects, "access") && !contains(selects, "+access") {
		delete(doc, "access")
	}
	return doc
}

func roleRules(role *authz.Role) []any {
	rules := make([]any, 0, len(role.Access))
	for _, rule := range role.Access {
		methods := make([]any, 0, len(rule.Methods))
		for _, m := range rule.Methods {
			methods = append(methods, m)
		}
		rules = append(rules, map[string]any{"path": rule.Path, "methods": methods})
	}
	return rules
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
