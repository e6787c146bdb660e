package models

import "time"

const (
	JobStatusScheduled = "scheduled"
	JobStatusClaimed   = "claimed"
	JobStatusSent      = "sent"
	JobStatusFailed    = "failed"
)

// MaxLastErrorLen bounds the persisted error text (§4.E retry policy).
const MaxLastErrorLen = 1000

// Job is the durable unit of work consumed by the worker loop. Only rows
// with Status = scheduled are claimable; Claimed is owned by exactly one
// worker invocation; Sent and Failed are terminal (§3 invariants).
type Job struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	OwnerID       string     `gorm:"not null;index" json:"owner_id"`
	ToEmail       string     `gorm:"not null" json:"to_email"`
	Subject       string     `json:"subject"`
	BodyText      string     `json:"body_text"`
	ScheduledFor  time.Time  `gorm:"not null;index:idx_jobs_claim,priority:2" json:"scheduled_for"`
	Status        string     `gorm:"not null;default:'scheduled';index:idx_jobs_claim,priority:1" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	MessageID     *string    `json:"message_id"`
	SequenceRunID *uint      `gorm:"index" json:"sequence_run_id,omitempty"`
	StepID        *uint      `json:"step_id,omitempty"`
	Timezone      string     `json:"timezone,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TruncateError applies the §4.E 1000-character bound to stored error text.
func TruncateError(s string) string {
	r := []rune(s)
	if len(r) <= MaxLastErrorLen {
		return s
	}
	return string(r[:MaxLastErrorLen])
}
