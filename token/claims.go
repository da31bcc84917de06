package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ClaimsVersion is the claim schema version written into every token.
const ClaimsVersion = 1

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the fixed, versioned claim schema. Ext carries optional
// application fields without affecting signature verification.
type Claims struct {
	Kind    Kind           `json:"typ"`
	Scope   []string       `json:"scope,omitempty"`
	Session string         `json:"sid,omitempty"`
	Tenant  string         `json:"tid,omitempty"`
	Version int            `json:"ver"`
	Ext     map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Token is a freshly minted token and the claims it carries.
type Token struct {
	Raw    string
	Claims *Claims
}

// JTI returns the token identifier.
func (c *Claims) JTI() string { return c.ID }

// IssuedAtTime returns iat or the zero time.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// HasScope reports whether every requested scope is present.
func (c *Claims) HasScope(required ...string) bool {
	for _, want := range required {
		found := false
		for _, have := range c.Scope {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MintOption customizes the claims of a single Mint call.
type MintOption func(*Claims)

// WithScope attaches a scope/role list.
func WithScope(scope ...string) MintOption {
	return func(c *Claims) {
		if len(scope) == 0 {
			return
		}
		c.Scope = append([]string(nil), scope...)
	}
}

// WithSession binds the token to a device or session scope.
func WithSession(scope string) MintOption {
	return func(c *Claims) { c.Session = scope }
}

// WithTenant binds the token to a tenant.
func WithTenant(tenant string) MintOption {
	return func(c *Claims) { c.Tenant = tenant }
}

// WithExt attaches extension fields. The map is copied.
func WithExt(ext map[string]any) MintOption {
	return func(c *Claims) {
		if len(ext) == 0 {
			return
		}
		c.Ext = make(map[string]any, len(ext))
		for k, v := range ext {
			c.Ext[k] = v
		}
	}
}
