package models

import "time"

const (
	EventStatusSent   = "sent"
	EventStatusFailed = "failed"
)

// EmailEvent is an append-only audit row per send attempt bound to a
// run/step (§3). Post-send sequencer errors do not revert the job's sent
// status; they are recorded here instead (§7).
type EmailEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     uint      `gorm:"not null;index" json:"run_id"`
	StepID    uint      `gorm:"not null" json:"step_id"`
	JobID     uint      `gorm:"not null;index" json:"job_id"`
	Status    string    `gorm:"not null" json:"status"`
	MessageID *string   `json:"message_id"`
	LastError string    `json:"last_error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}
