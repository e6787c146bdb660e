// Package credential persists each tenant's mail-provider connection: the
// account email and the encrypted refresh token obtained from the OAuth
// grant exchanger.
package credential

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/models"
	"github.com/kaptiv/sequencer/utils"
)

var ErrNoRefreshToken = errors.New("no_refresh_token")

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Upsert binds a refresh token and connected email to owner, encrypting the
// token at rest. A tenant has at most one credential row.
func (s *Store) Upsert(ownerID, email, refreshToken string) (*models.Credential, error) {
	encrypted, err := utils.Encrypt(refreshToken)
	if err != nil {
		return nil, err
	}

	var cred models.Credential
	err = s.DB.Where("owner_id = ?", ownerID).First(&cred).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cred = models.Credential{
			OwnerID:      ownerID,
			Email:        &email,
			RefreshToken: &encrypted,
		}
		if err := s.DB.Create(&cred).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		cred.Email = &email
		cred.RefreshToken = &encrypted
		if err := s.DB.Save(&cred).Error; err != nil {
			return nil, err
		}
	}
	return &cred, nil
}

// Get returns the tenant's credential, or nil if the tenant has never
// connected a mailbox.
func (s *Store) Get(ownerID string) (*models.Credential, error) {
	var cred models.Credential
	err := s.DB.Where("owner_id = ?", ownerID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// RefreshToken decrypts the stored refresh token for ownerID. Returns
// ErrNoRefreshToken if the tenant has no usable credential, the failure
// mode the worker maps to a permanent job failure (§4.E step 3a).
func (s *Store) RefreshToken(ownerID string) (string, error) {
	cred, err := s.Get(ownerID)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.RefreshToken == nil || *cred.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}
	return utils.Decrypt(*cred.RefreshToken)
}

// TouchLastUsed stamps LastUsedAt, best-effort — a failure here never blocks
// a send.
func (s *Store) TouchLastUsed(ownerID string) {
	now := time.Now().UTC()
	s.DB.Model(&models.Credential{}).Where("owner_id = ?", ownerID).Update("last_used_at", now)
}

// DailyCapReached reports whether ownerID has already sent cap messages
// today. cap <= 0 disables the ceiling. Adapted from the per-sender
// DailyLimit/SentToday accounting in campaign_sender.go's RotateSender, here
// scoped to one mailbox per tenant instead of a rotating pool.
func (s *Store) DailyCapReached(ownerID string, cap int) (bool, error) {
	if cap <= 0 {
		return false, nil
	}
	cred, err := s.Get(ownerID)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}
	return cred.SentToday >= cap, nil
}

// IncrementSentToday bumps ownerID's daily counter after a successful send,
// mirroring UpdateSenderUsage's gorm.Expr increment.
func (s *Store) IncrementSentToday(ownerID string) {
	s.DB.Model(&models.Credential{}).Where("owner_id = ?", ownerID).
		Update("sent_today", gorm.Expr("sent_today + ?", 1))
}

// ResetDailyCounters zeroes every tenant's counter, called once per day.
func (s *Store) ResetDailyCounters() error {
	now := time.Now().UTC()
	return s.DB.Model(&models.Credential{}).Where("sent_today > 0").
		Updates(map[string]interface{}{"sent_today": 0, "last_reset_day": now}).Error
}

// RunDailyReset blocks, resetting every tenant's counter at each UTC
// midnight. Intended to run in its own goroutine for the process lifetime.
func (s *Store) RunDailyReset(logger *log.Logger) {
	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		time.Sleep(time.Until(nextMidnight))

		if err := s.ResetDailyCounters(); err != nil {
			logger.Printf("failed to reset daily send counters: %v", err)
		} else {
			logger.Println("reset daily send counters")
		}
	}
}
