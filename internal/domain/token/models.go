// Package token keeps the OAuth tokens issued by banks, encrypted at rest and
// refreshed on demand.
package token

import "time"

// expirySkew treats a token as expired slightly early so it does not lapse in flight.
const expirySkew = 30 * time.Second

// Payload is a plaintext token set as returned by a bank's token endpoint.
type Payload struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
}

// Record is the persisted form of a Payload. AccessToken and RefreshToken hold
// ciphertext bound to the (UserID, ConsentID) key.
type Record struct {
	UserID       string
	ConsentID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the token can no longer be used at now.
// A zero ExpiresAt never expires.
func (r *Record) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expirySkew).Before(r.ExpiresAt)
}

func binding(userID, consentID string) string {
	return userID + "|" + consentID
}

func flightKey(userID, consentID string) string {
	return binding(userID, consentID)
}
