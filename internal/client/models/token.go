package models

import "time"

// Service names a credential slot.
type Service string

const (
	ServiceOfficial Service = "official"
	ServiceShare    Service = "share"
	ServiceSync     Service = "sync"
)

var Services = []Service{ServiceOfficial, ServiceShare, ServiceSync}

// TokenInfo is an access token or session id with its expiry. For the
// share source AccessToken holds the session id.
type TokenInfo struct {
	Service      Service   `json:"service"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// ExpiresWithin reports whether the token is expired at now or will be
// within skew. A zero Expiry never expires.
func (t TokenInfo) ExpiresWithin(now time.Time, skew time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.Expiry)
}
