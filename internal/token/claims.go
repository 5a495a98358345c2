package token

import (
	"encoding/json"
	"time"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access_token"
	TypeRefresh = "refresh_token"
	TypeID      = "id_token"
)

// Claims is a validated claim set.
type Claims map[string]any

// String returns a string claim, or "" when absent or not a string.
func (c Claims) String(name string) string {
	v, _ := c[name].(string)
	return v
}

// Subject returns the sub claim.
func (c Claims) Subject() string { return c.String("sub") }

// Type returns the type claim.
func (c Claims) Type() string { return c.String("type") }

// Scope returns the space-delimited scope claim.
func (c Claims) Scope() string { return c.String("scope") }

// Audience returns the first aud value. aud may be a string or an array.
func (c Claims) Audience() string {
	switch v := c["aud"].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			s, _ := v[0].(string)
			return s
		}
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}

	return ""
}

// Time reads a NumericDate claim.
func (c Claims) Time(name string) (time.Time, bool) {
	var secs float64

	switch v := c[name].(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}

		secs = f
	default:
		return time.Time{}, false
	}

	return time.Unix(int64(secs), 0), true
}

// ExpiresAt returns the exp claim, or the zero time.
func (c Claims) ExpiresAt() time.Time {
	t, _ := c.Time("exp")
	return t
}

// IssuedAt returns the iat claim, or the zero time.
func (c Claims) IssuedAt() time.Time {
	t, _ := c.Time("iat")
	return t
}
