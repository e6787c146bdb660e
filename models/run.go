package models

import "time"

const (
	RunStatusActive    = "active"
	RunStatusStopped   = "stopped"
	RunStatusCompleted = "completed"
)

// Run is the per-(sequence, recipient) progression through ordered steps.
// CurrentStep is the step_order of the most recently sent step, 0 if none
// sent yet. ThreadID is append-only: once non-null it never changes (§3).
type Run struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SequenceID     uint       `gorm:"not null;index" json:"sequence_id"`
	OwnerID        string     `gorm:"not null;index" json:"owner_id"`
	RecipientEmail string     `gorm:"not null" json:"recipient_email"`
	Status         string     `gorm:"not null;default:'active';index" json:"status"`
	CurrentStep    int        `gorm:"not null;default:0" json:"current_step"`
	ThreadID       *string    `json:"thread_id"`
	LastSentAt     *time.Time `json:"last_sent_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Active reports whether new jobs may still be scheduled for this run
// (§3 invariant: once status != active, no new jobs are created).
func (r *Run) Active() bool {
	return r.Status == RunStatusActive
}
