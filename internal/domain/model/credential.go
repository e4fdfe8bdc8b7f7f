package model

import "time"

// Credential is the decrypted, in-use representation of an OAuth2 token set.
// It is replaced wholesale on every refresh; individual fields are never
// mutated in place.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiryMillis int64  `json:"expiry_millis"`
}

// Valid reports whether the credential satisfies the structural invariant:
// all string fields non-empty and a positive expiry. Credentials failing
// this check are never accepted by the persistence layer.
func (c Credential) Valid() bool {
	return c.AccessToken != "" &&
		c.RefreshToken != "" &&
		c.TokenType != "" &&
		c.Scope != "" &&
		c.ExpiryMillis > 0
}

// Expired reports whether the access token has passed its expiry at the
// given instant. A missing or zero expiry counts as expired.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiryMillis <= 0 {
		return true
	}
	return c.ExpiryMillis <= now.UnixMilli()
}

// ExpiringSoon reports whether the access token expires within buffer of
// the given instant. An already-expired credential is expiring soon.
func (c Credential) ExpiringSoon(now time.Time, buffer time.Duration) bool {
	if c.ExpiryMillis <= 0 {
		return true
	}
	return c.ExpiryMillis-now.UnixMilli() <= buffer.Milliseconds()
}

// Merge combines a freshly refreshed credential with this one. Providers
// frequently omit refresh_token on subsequent refreshes; the previously
// known refresh token is preserved in that case so it is never dropped.
// Token type and scope are carried forward the same way.
func (c Credential) Merge(fresh Credential) Credential {
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = c.RefreshToken
	}
	if fresh.TokenType == "" {
		fresh.TokenType = c.TokenType
	}
	if fresh.Scope == "" {
		fresh.Scope = c.Scope
	}
	return fresh
}
