package models

import "time"

// OAuthState is the short-lived ticket created at /oauth/start and consumed
// exactly once at /oauth2/callback (§3). Persisted rather than kept
// in-process because the callback may land on a different instance than the
// one that issued the nonce (§9).
type OAuthState struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Nonce     string    `gorm:"not null;uniqueIndex" json:"-"`
	OwnerID   string    `gorm:"not null;index" json:"owner_id"`
	ReturnURL string    `json:"return_url"`
	ExpiresAt time.Time `json:"expires_at"`
	ConsumedAt *time.Time `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the ticket can still be redeemed: unconsumed and
// not past its TTL.
func (s *OAuthState) Usable(now time.Time) bool {
	return s.ConsumedAt == nil && now.Before(s.ExpiresAt)
}
