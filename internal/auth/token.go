package auth

import "time"

// SafetyMargin is subtracted from the reported token lifetime so that a call
// never races the server-side expiry.
const SafetyMargin = 5 * time.Second

// ServiceToken is the service-level bearer credential.
type ServiceToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// newServiceToken builds a token issued at the given instant.
func newServiceToken(value string, issuedAt time.Time, lifetime time.Duration) ServiceToken {
	return ServiceToken{
		Value:     value,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(lifetime - SafetyMargin),
	}
}

// ValidAt reports whether the token can still be served at t.
func (t ServiceToken) ValidAt(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}
