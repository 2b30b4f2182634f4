// Package token signs and verifies the typed bearer tokens used by the
// authentication gateway. Tokens are self-contained: the auth variant
// embeds the device access snapshot captured at login.
package token

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/device"
)

// Type discriminates token purposes. An endpoint only ever accepts its
// own expected type; cross-use is rejected.
type Type string

const (
	TypeAuth   Type = "auth"
	TypeReset  Type = "reset"
	TypeInvite Type = "invite"
)

// Lifetimes per token type. Auth tokens carry no expiry: they are revoked
// by removing the matching device access record instead.
const (
	ResetTTL  = 15 * time.Minute
	InviteTTL = 7 * 24 * time.Hour
)

// Payload is the signed token content.
type Payload struct {
	SubjectID string
	Owner     string
	Type      Type
	Access    *device.AccessRecord
	IssuedAt  time.Time
}

// Claims is the wire form of Payload.
type Claims struct {
	Owner     string               `json:"owner"`
	TokenType Type                 `json:"type"`
	Access    *device.AccessRecord `json:"access,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with a symmetric secret.
type Codec struct {
	secret []byte
}

// NewCodec constructs a codec. An empty secret is permitted here; it
// becomes a configuration fault the first time a token is issued or
// verified, never a silent bypass.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(strings.TrimSpace(secret))}
}

func (c *Codec) checkSecret() error {
	if len(c.secret) == 0 {
		return apperr.New(apperr.CodeMissingJWTSecret, "JWT secret was not provided", http.StatusBadRequest)
	}
	return nil
}

// Issue signs payload. A zero ttl produces an unbounded token.
func (c *Codec) Issue(payload Payload, ttl time.Duration) (string, error) {
	if err := c.checkSecret(); err != nil {
		return "", err
	}
	issuedAt := payload.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)

	claims := Claims{
		Owner:     payload.Owner,
		TokenType: payload.Type,
		Access:    payload.Access,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  payload.SubjectID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify checks the signature and structure of raw and requires the
// embedded type to equal expected. Every failure mode maps to
// invalid_authentication.
func (c *Codec) Verify(raw string, expected Type) (Payload, error) {
	if err := c.checkSecret(); err != nil {
		return Payload{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, apperr.InvalidAuthentication()
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, apperr.InvalidAuthentication()
		}
		return c.secret, nil
	})
	if err != nil {
		return Payload{}, apperr.InvalidAuthentication()
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Payload{}, apperr.InvalidAuthentication()
	}
	if claims.TokenType != expected {
		return Payload{}, apperr.InvalidAuthentication()
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return Payload{}, apperr.InvalidAuthentication()
	}

	return Payload{
		SubjectID: claims.Subject,
		Owner:     claims.Owner,
		Type:      claims.TokenType,
		Access:    claims.Access,
		IssuedAt:  claims.IssuedAt.Time,
	}, nil
}
