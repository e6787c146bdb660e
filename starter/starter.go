// Package starter materializes one run and one step-0 job per recipient
// when a sequence is started (§4.G).
package starter

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/jobqueue"
	"github.com/kaptiv/sequencer/models"
)

var (
	ErrNoSteps      = errors.New("sequence has no steps")
	ErrNoRecipients = errors.New("no recipients to start")
)

type Starter struct {
	DB   *gorm.DB
	Jobs *jobqueue.Store
}

func New(db *gorm.DB, jobs *jobqueue.Store) *Starter {
	return &Starter{DB: db, Jobs: jobs}
}

type Input struct {
	SequenceID     uint
	OwnerID        string
	Recipients     []string
	FirstSendTime  *time.Time
	Timezone       string
}

type Output struct {
	Runs []models.Run
	Jobs []models.Job
}

// Start loads the sequence's steps, resolves the recipient list (falling
// back to the sequence's recipient table when none were supplied inline),
// then creates one active run and one step-0 job per recipient in the
// given order. Recipient de-duplication is deliberately not performed here
// (§9 open question) — callers own that. A database error aborts with the
// remaining recipients left unprocessed; there is no compensating
// transaction across recipients.
func (st *Starter) Start(in Input) (Output, error) {
	var steps []models.SequenceStep
	if err := st.DB.Where("sequence_id = ?", in.SequenceID).Order("step_order ASC").Find(&steps).Error; err != nil {
		return Output{}, err
	}
	if len(steps) == 0 {
		return Output{}, ErrNoSteps
	}
	first := steps[0]

	recipients := in.Recipients
	if len(recipients) == 0 {
		var rows []models.SequenceRecipient
		if err := st.DB.Where("sequence_id = ?", in.SequenceID).Find(&rows).Error; err != nil {
			return Output{}, err
		}
		for _, r := range rows {
			recipients = append(recipients, r.Email)
		}
	}
	if len(recipients) == 0 {
		return Output{}, ErrNoRecipients
	}

	scheduledFor := time.Now().UTC()
	if in.FirstSendTime != nil {
		scheduledFor = *in.FirstSendTime
	}

	var out Output
	for _, email := range recipients {
		run := models.Run{
			SequenceID:     in.SequenceID,
			OwnerID:        in.OwnerID,
			RecipientEmail: email,
			Status:         models.RunStatusActive,
			CurrentStep:    0,
		}
		if err := st.DB.Create(&run).Error; err != nil {
			return out, err
		}

		job := models.Job{
			OwnerID:       in.OwnerID,
			ToEmail:       email,
			Subject:       first.Subject,
			BodyText:      first.BodyText,
			ScheduledFor:  scheduledFor,
			Status:        models.JobStatusScheduled,
			SequenceRunID: &run.ID,
			StepID:        &first.ID,
			Timezone:      in.Timezone,
		}
		if err := st.Jobs.Enqueue(&job); err != nil {
			return out, err
		}

		out.Runs = append(out.Runs, run)
		out.Jobs = append(out.Jobs, job)
	}

	return out, nil
}
