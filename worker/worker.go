// Package worker drains the job queue on each external trigger: claim a
// batch, execute each job in order, update its outcome (§4.E). Capability
// injection (DB, Clock, Mailer, ReplyDetector, CredentialStore) follows
// the re-architecture guidance to avoid module-level singletons, replacing
// the teacher's package-level googleOAuthConfig pattern in auth_controller.go.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/credential"
	"github.com/kaptiv/sequencer/jobqueue"
	"github.com/kaptiv/sequencer/mailer"
	"github.com/kaptiv/sequencer/models"
	"github.com/kaptiv/sequencer/replycheck"
	"github.com/kaptiv/sequencer/sequencer"
	"github.com/kaptiv/sequencer/utils"
)

// MaxAttempts bounds total attempts per job before it becomes permanently
// failed (§4.E retry policy).
const MaxAttempts = 5

// Summary is returned to the caller of one worker tick; by design the HTTP
// route always answers 200 with failures enumerated inside it rather than
// surfacing a batch-level error (§7).
type Summary struct {
	Claimed  int      `json:"claimed"`
	Sent     int      `json:"sent"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

type Worker struct {
	DB           *gorm.DB
	Jobs         *jobqueue.Store
	Credentials  *credential.Store
	Mailer       mailer.Sender
	Replies      replycheck.Detector
	Sequencer    *sequencer.Sequencer
	Clock        func() time.Time
	Logger       *log.Logger
	BatchSize    int
	DailySendCap int
}

func New(db *gorm.DB, jobs *jobqueue.Store, creds *credential.Store, mail mailer.Sender,
	replies replycheck.Detector, seq *sequencer.Sequencer, batchSize int, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "WORKER: ", log.LstdFlags)
	}
	return &Worker{
		DB:          db,
		Jobs:        jobs,
		Credentials: creds,
		Mailer:      mail,
		Replies:     replies,
		Sequencer:   seq,
		Clock:       func() time.Time { return time.Now().UTC() },
		Logger:      logger,
		BatchSize:   batchSize,
	}
}

// Tick performs one full worker invocation: claim, process sequentially,
// summarize. Authentication against WORKER_SECRET happens one layer up, at
// the HTTP handler.
func (w *Worker) Tick(ctx context.Context) Summary {
	jobs, err := w.Jobs.Claim(w.BatchSize)
	if err != nil {
		utils.LogError("claim_error", err, nil)
		return Summary{Failures: []string{"claim failed: " + err.Error()}}
	}

	summary := Summary{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return summary
	}

	for _, job := range jobs {
		w.processOne(ctx, job, &summary)
	}
	return summary
}

func (w *Worker) processOne(ctx context.Context, job models.Job, summary *Summary) {
	cred, err := w.Credentials.Get(job.OwnerID)
	if err != nil || !cred.Connected() {
		utils.LogError("no_refresh_token", credential.ErrNoRefreshToken, map[string]interface{}{"job_id": job.ID})
		if err := w.Jobs.MarkFailed(job.ID, job.Attempts+1, "no_refresh_token"); err != nil {
			utils.LogError("mark_failed_error", err, map[string]interface{}{"job_id": job.ID})
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, jobFailure(job.ID, "no_refresh_token"))
		return
	}
	refreshToken, err := utils.Decrypt(*cred.RefreshToken)
	if err != nil {
		utils.LogError("decrypt_refresh_token_error", err, map[string]interface{}{"job_id": job.ID})
		summary.Failed++
		summary.Failures = append(summary.Failures, jobFailure(job.ID, "no_refresh_token"))
		return
	}

	capped, err := w.Credentials.DailyCapReached(job.OwnerID, w.DailySendCap)
	if err != nil {
		utils.LogError("daily_cap_check_error", err, map[string]interface{}{"job_id": job.ID})
	} else if capped {
		tomorrow := startOfNextDay(w.Clock())
		if err := w.Jobs.Reschedule(job.ID, job.Attempts, tomorrow, "daily_cap_reached"); err != nil {
			utils.LogError("reschedule_error", err, map[string]interface{}{"job_id": job.ID})
		}
		summary.Skipped++
		return
	}

	from := job.OwnerID
	if cred.Email != nil && *cred.Email != "" {
		from = *cred.Email
	}
	msg := mailer.Message{
		From:    from,
		To:      job.ToEmail,
		Subject: job.Subject,
		Body:    job.BodyText,
	}
	result, err := w.Mailer.Send(ctx, refreshToken, msg)
	if err != nil {
		w.applyRetryPolicy(job, err, summary)
		return
	}

	w.Credentials.TouchLastUsed(job.OwnerID)
	w.Credentials.IncrementSentToday(job.OwnerID)

	if err := w.Jobs.MarkSent(job.ID, result.MessageID); err != nil {
		utils.LogError("mark_sent_error", err, map[string]interface{}{"job_id": job.ID})
		summary.Failed++
		summary.Failures = append(summary.Failures, jobFailure(job.ID, err.Error()))
		return
	}
	summary.Sent++

	if job.SequenceRunID != nil {
		seqResult := sequencer.SendResult{MessageID: result.MessageID, ThreadID: result.ThreadID}
		if err := w.Sequencer.Advance(ctx, job, seqResult, refreshToken); err != nil {
			// Post-send sequencer errors never revert the job's sent
			// status (§7); they are recorded as a failed email_event and
			// stall that run for an operator.
			utils.LogError("sequencer_advance_error", err, map[string]interface{}{"job_id": job.ID})
			if job.StepID != nil {
				event := models.EmailEvent{
					RunID:     *job.SequenceRunID,
					StepID:    *job.StepID,
					JobID:     job.ID,
					Status:    models.EventStatusFailed,
					LastError: models.TruncateError(err.Error()),
					SentAt:    w.Clock(),
				}
				if err := w.DB.Create(&event).Error; err != nil {
					utils.LogError("event_insert_error", err, map[string]interface{}{"job_id": job.ID})
				}
			}
		}
	}
}

// applyRetryPolicy implements §4.E's retry policy: n = attempts pre-
// increment; if n+1 < MaxAttempts, reschedule with exponential backoff;
// otherwise the job becomes permanently failed.
func (w *Worker) applyRetryPolicy(job models.Job, sendErr error, summary *Summary) {
	n := job.Attempts
	utils.LogError("send_error", sendErr, map[string]interface{}{"job_id": job.ID, "attempts": n + 1})
	if n+1 < MaxAttempts {
		backoff := time.Duration(1<<uint(n+1)) * time.Minute
		nextAttempt := w.Clock().Add(backoff)
		if err := w.Jobs.Reschedule(job.ID, n+1, nextAttempt, sendErr.Error()); err != nil {
			utils.LogError("reschedule_error", err, map[string]interface{}{"job_id": job.ID})
		}
	} else {
		if err := w.Jobs.MarkFailed(job.ID, n+1, sendErr.Error()); err != nil {
			utils.LogError("mark_failed_error", err, map[string]interface{}{"job_id": job.ID})
		}
	}
	summary.Failed++
	summary.Failures = append(summary.Failures, jobFailure(job.ID, sendErr.Error()))
}

func jobFailure(jobID uint, reason string) string {
	return fmt.Sprintf("job %d: %s", jobID, reason)
}

func startOfNextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}
