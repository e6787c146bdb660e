package models

import "time"

// Credential holds a tenant's connected mailbox: the provider refresh token
// obtained via the OAuth grant exchanger and the address it resolved to.
// At most one row exists per OwnerID (§3 invariant).
type Credential struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	OwnerID       string     `gorm:"not null;uniqueIndex" json:"owner_id"`
	Email         *string    `json:"email"`
	RefreshToken  *string    `gorm:"column:refresh_token" json:"-"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	LastResetDay  *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at"`
}

// Connected reports whether this tenant has a usable refresh token.
func (c *Credential) Connected() bool {
	return c != nil && c.RefreshToken != nil && *c.RefreshToken != ""
}
