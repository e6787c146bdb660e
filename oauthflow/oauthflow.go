// Package oauthflow handles the OAuth grant exchange: issuing a one-shot
// state ticket at /oauth/start and redeeming it at /oauth2/callback for a
// refresh token bound to a tenant (§4.H).
package oauthflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/credential"
	"github.com/kaptiv/sequencer/models"
	"github.com/kaptiv/sequencer/utils"
)

// stateTTL is the window a ticket stays redeemable (§4.H).
const stateTTL = 15 * time.Minute

var (
	ErrInvalidState = errors.New("invalid or expired state")
	ErrNoEmail      = errors.New("id token did not contain an email")
)

type Flow struct {
	DB          *gorm.DB
	OAuthConfig *oauth2.Config
	Credentials *credential.Store
}

func New(db *gorm.DB, cfg *oauth2.Config, creds *credential.Store) *Flow {
	return &Flow{DB: db, OAuthConfig: cfg, Credentials: creds}
}

// Start generates a nonce, persists a 15-minute OAuthState ticket, and
// returns the provider authorization URL. access_type=offline and
// prompt=consent are both required — without prompt=consent the provider
// may omit refresh_token on a re-grant.
func (f *Flow) Start(ownerID, returnURL string) (authURL, nonce string, err error) {
	nonce, err = utils.GenerateNonce()
	if err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}

	state := models.OAuthState{
		Nonce:     nonce,
		OwnerID:   ownerID,
		ReturnURL: returnURL,
		ExpiresAt: time.Now().UTC().Add(stateTTL),
	}
	if err := f.DB.Create(&state).Error; err != nil {
		return "", "", err
	}

	authURL = f.OAuthConfig.AuthCodeURL(nonce,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return authURL, nonce, nil
}

// CallbackResult is what the caller needs to build the redirect response.
type CallbackResult struct {
	OwnerID   string
	ReturnURL string
}

// Callback consumes the state ticket (single-use), exchanges code for a
// token, decodes the ID token payload for the connected email, and upserts
// the credential (§4.H).
func (f *Flow) Callback(ctx context.Context, code, nonce string) (CallbackResult, error) {
	var state models.OAuthState
	if err := f.DB.Where("nonce = ?", nonce).First(&state).Error; err != nil {
		return CallbackResult{}, ErrInvalidState
	}
	if !state.Usable(time.Now().UTC()) {
		return CallbackResult{}, ErrInvalidState
	}

	now := time.Now().UTC()
	res := f.DB.Model(&state).Where("consumed_at IS NULL").Update("consumed_at", now)
	if res.Error != nil {
		return CallbackResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		// lost the race to a concurrent callback replaying the same state
		return CallbackResult{}, ErrInvalidState
	}

	token, err := f.OAuthConfig.Exchange(ctx, code)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("exchange token: %w", err)
	}

	email, err := decodeEmail(token)
	if err != nil {
		return CallbackResult{}, err
	}

	if _, err := f.Credentials.Upsert(state.OwnerID, email, token.RefreshToken); err != nil {
		return CallbackResult{}, fmt.Errorf("upsert credential: %w", err)
	}

	return CallbackResult{OwnerID: state.OwnerID, ReturnURL: state.ReturnURL}, nil
}

// decodeEmail decodes the ID token's payload segment (base64url) to pull
// the email claim, without validating the JWT signature — the provider's
// TLS-authenticated token endpoint is the trust boundary here.
func decodeEmail(token *oauth2.Token) (string, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", ErrNoEmail
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", ErrNoEmail
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode id token payload: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("parse id token claims: %w", err)
	}
	if claims.Email == "" {
		return "", ErrNoEmail
	}
	return claims.Email, nil
}
