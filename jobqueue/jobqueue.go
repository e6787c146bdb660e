// Package jobqueue implements the durable job table and the atomic batch
// claim primitive that is the synchronization point of the whole system
// (§4.D): all concurrency safety of the worker reduces to Claim's atomicity.
package jobqueue

import (
	"time"

	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/models"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Enqueue inserts a new scheduled job, used by the starter (§4.G) and the
// sequencer when scheduling a run's next step (§4.F step 7).
func (s *Store) Enqueue(job *models.Job) error {
	return s.DB.Create(job).Error
}

// Claim selects up to batchSize rows with status=scheduled and
// scheduled_for<=now, oldest first, and atomically marks them claimed in
// one transaction. Two concurrent Claim calls never return overlapping
// rows: SELECT ... FOR UPDATE SKIP LOCKED lets each transaction skip rows
// already locked by a concurrent claim rather than block on them.
func (s *Store) Claim(batchSize int) ([]models.Job, error) {
	var claimed []models.Job

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var rows []models.Job
		err := tx.Raw(
			`SELECT * FROM jobs
			 WHERE status = ? AND scheduled_for <= ?
			 ORDER BY scheduled_for ASC, id ASC
			 LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			models.JobStatusScheduled, time.Now().UTC(), batchSize,
		).Scan(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uint, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
			rows[i].Status = models.JobStatusClaimed
		}

		if err := tx.Model(&models.Job{}).Where("id IN ?", ids).
			Update("status", models.JobStatusClaimed).Error; err != nil {
			return err
		}

		claimed = rows
		return nil
	})

	return claimed, err
}

// MarkSent transitions a claimed job to its terminal sent state, recording
// the provider message id.
func (s *Store) MarkSent(jobID uint, messageID string) error {
	return s.DB.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":     models.JobStatusSent,
		"message_id": messageID,
	}).Error
}

// Reschedule returns a job to scheduled with the given attempts count and
// next attempt time, and persists the truncated error text. The worker uses
// it for the retry policy's "try again later" branch (§4.E), passing the
// bumped attempts and the backoff time, and for daily-cap deferral, passing
// the unchanged attempts and the next UTC midnight.
func (s *Store) Reschedule(jobID uint, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return s.DB.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":        models.JobStatusScheduled,
		"attempts":      attempts,
		"scheduled_for": nextAttemptAt,
		"last_error":    models.TruncateError(lastErr),
	}).Error
}

// MarkFailed applies the retry policy's terminal branch: attempts exhausted,
// the job becomes permanently failed (§4.E).
func (s *Store) MarkFailed(jobID uint, attempts int, lastErr string) error {
	return s.DB.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":     models.JobStatusFailed,
		"attempts":   attempts,
		"last_error": models.TruncateError(lastErr),
	}).Error
}
