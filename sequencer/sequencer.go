// Package sequencer implements the per-(sequence, recipient) state machine:
// on a successful send it advances a run and either stops it (reply
// detected), completes it (no next step), or schedules the follow-up job
// (§4.F). Transitions here are the only place a run's status changes.
package sequencer

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/jobqueue"
	"github.com/kaptiv/sequencer/models"
	"github.com/kaptiv/sequencer/replycheck"
)

// SendResult is what the mail sender returned for the job being advanced.
type SendResult struct {
	MessageID string
	ThreadID  string
}

type Sequencer struct {
	DB       *gorm.DB
	Jobs     *jobqueue.Store
	Replies  replycheck.Detector
	Now      func() time.Time
}

func New(db *gorm.DB, jobs *jobqueue.Store, replies replycheck.Detector, now func() time.Time) *Sequencer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sequencer{DB: db, Jobs: jobs, Replies: replies, Now: now}
}

// Advance runs the seven-step post-send procedure for a job bound to
// (run, step). refreshToken is needed to consult the reply detector.
func (sq *Sequencer) Advance(ctx context.Context, job models.Job, result SendResult, refreshToken string) error {
	if job.SequenceRunID == nil || job.StepID == nil {
		return nil
	}

	var run models.Run
	if err := sq.DB.First(&run, *job.SequenceRunID).Error; err != nil {
		return err
	}

	var step models.SequenceStep
	if err := sq.DB.First(&step, *job.StepID).Error; err != nil {
		return err
	}

	sentAt := sq.Now()

	// 1. Append the email_event row unconditionally, even for a run that
	// has already left the active state.
	event := models.EmailEvent{
		RunID:     run.ID,
		StepID:    step.ID,
		JobID:     job.ID,
		Status:    models.EventStatusSent,
		MessageID: nonEmptyPtr(result.MessageID),
		SentAt:    sentAt,
	}
	if err := sq.DB.Create(&event).Error; err != nil {
		return err
	}

	// A run no longer active must not be advanced past the event insert
	// (§4.F edge case).
	if !run.Active() {
		return nil
	}

	previousWatermark := run.LastSentAt

	// 3. Update the run: current_step, last_sent_at, first-write-wins
	// thread_id.
	updates := map[string]interface{}{
		"current_step": step.StepOrder,
		"last_sent_at": sentAt,
	}
	if run.ThreadID == nil && result.ThreadID != "" {
		updates["thread_id"] = result.ThreadID
	}
	if err := sq.DB.Model(&run).Updates(updates).Error; err != nil {
		return err
	}

	// 4. Read back the run for the canonical thread_id/recipient/watermark.
	if err := sq.DB.First(&run, run.ID).Error; err != nil {
		return err
	}

	// 5. Consult the reply detector strictly after the previous watermark.
	var sinceMs int64
	if previousWatermark != nil {
		sinceMs = previousWatermark.UnixMilli()
	}
	threadID := ""
	if run.ThreadID != nil {
		threadID = *run.ThreadID
	}
	if sq.Replies != nil && sq.Replies.Replied(ctx, refreshToken, threadID, run.RecipientEmail, sinceMs) {
		return sq.DB.Model(&run).Update("status", models.RunStatusStopped).Error
	}

	// 6. Find the next step by smallest step_order greater than current.
	var next models.SequenceStep
	err := sq.DB.Where("sequence_id = ? AND step_order > ?", step.SequenceID, step.StepOrder).
		Order("step_order ASC").First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sq.DB.Model(&run).Update("status", models.RunStatusCompleted).Error
	}
	if err != nil {
		return err
	}

	// 7. Schedule the next step's job.
	nextJob := &models.Job{
		OwnerID:       job.OwnerID,
		ToEmail:       run.RecipientEmail,
		Subject:       next.Subject,
		BodyText:      next.BodyText,
		ScheduledFor:  sentAt.Add(time.Duration(next.DelayDays) * 24 * time.Hour),
		Status:        models.JobStatusScheduled,
		SequenceRunID: &run.ID,
		StepID:        &next.ID,
		Timezone:      job.Timezone,
	}
	return sq.Jobs.Enqueue(nextJob)
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
