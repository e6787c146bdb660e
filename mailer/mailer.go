// Package mailer builds RFC-5322 messages and dispatches them through the
// mail provider, the same boundary the teacher drew with
// utils.MailServiceInterface, generalized to a refresh-token-scoped send.
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Message is the plain-text email to send (§4.B — no templating, no
// HTML/multipart).
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Result carries the provider's identifiers for the sent message, either of
// which may be empty if the provider omitted it.
type Result struct {
	MessageID string
	ThreadID  string
}

// Sender dispatches a built message using a tenant's refresh token.
type Sender interface {
	Send(ctx context.Context, refreshToken string, msg Message) (Result, error)
}

// GmailSender is the production Sender, backed by the Gmail API.
type GmailSender struct {
	OAuthConfig *oauth2.Config
}

func NewGmailSender(cfg *oauth2.Config) *GmailSender {
	return &GmailSender{OAuthConfig: cfg}
}

// Build assembles the raw RFC-5322 byte string per §4.B: From/To/Subject/
// MIME headers, a blank line, then the body, `\n`-joined.
func Build(msg Message) string {
	lines := []string{
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		msg.Body,
	}
	return strings.Join(lines, "\n")
}

// EncodeRaw base64url-encodes a raw message with padding stripped, the
// encoding the provider's `raw` send field expects.
func EncodeRaw(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (g *GmailSender) Send(ctx context.Context, refreshToken string, msg Message) (Result, error) {
	token := &oauth2.Token{RefreshToken: refreshToken}
	client := g.OAuthConfig.Client(ctx, token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return Result{}, fmt.Errorf("gmail service: %w", err)
	}

	raw := EncodeRaw(Build(msg))
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return Result{}, fmt.Errorf("gmail send: %w", err)
	}

	return Result{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// NewOAuthConfig builds the shared oauth2.Config used both for the grant
// exchange (§4.H) and for token refresh during sends, mirroring the
// teacher's single package-level googleOAuthConfig in auth_controller.go,
// generalized into a constructor so worker and oauthflow inject the same
// value instead of relying on a global.
func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.send",
			"https://www.googleapis.com/auth/gmail.readonly",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: google.Endpoint,
	}
}
