package models

import "time"

// Sequence is an ordered list of message templates owned by a tenant.
type Sequence struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   string    `gorm:"not null;index" json:"owner_id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Steps      []SequenceStep    `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Recipients []SequenceRecipient `gorm:"foreignKey:SequenceID" json:"-"`
}

// SequenceStep is one template within a Sequence. (SequenceID, StepOrder) is
// unique (§3 invariant); enforced here with a composite unique index, whose
// violation on insert or save the step handlers map to a 409.
type SequenceStep struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SequenceID uint   `gorm:"not null;uniqueIndex:idx_sequence_step_order" json:"sequence_id"`
	StepOrder  int    `gorm:"not null;uniqueIndex:idx_sequence_step_order" json:"step_order"`
	Subject    string `gorm:"not null" json:"subject"`
	BodyText   string `json:"body_text"`
	DelayDays  int    `gorm:"not null;default:0" json:"delay_days"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SequenceRecipient is the default recipient list attached to a sequence,
// used by the starter (§4.G step 2) when the caller supplies none inline.
type SequenceRecipient struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SequenceID uint   `gorm:"not null;index" json:"sequence_id"`
	Email      string `gorm:"not null" json:"email"`
}
