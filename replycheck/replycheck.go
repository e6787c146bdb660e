// Package replycheck decides whether a recipient has replied to a thread
// since a watermark, the gate the sequencer consults before scheduling a
// sequence's next step.
package replycheck

import (
	"context"
	"log"
	"net/mail"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const maxMessages = 20

// Detector answers whether recipientEmail has replied in threadID strictly
// after sinceMs. A nil/empty threadID means no reply is possible to check
// (§4.F edge case: provider returned no thread id on first send).
type Detector interface {
	Replied(ctx context.Context, refreshToken, threadID, recipientEmail string, sinceMs int64) bool
}

type GmailDetector struct {
	OAuthConfig *oauth2.Config
}

func NewGmailDetector(cfg *oauth2.Config) *GmailDetector {
	return &GmailDetector{OAuthConfig: cfg}
}

func (d *GmailDetector) Replied(ctx context.Context, refreshToken, threadID, recipientEmail string, sinceMs int64) bool {
	if threadID == "" {
		return false
	}

	token := &oauth2.Token{RefreshToken: refreshToken}
	client := d.OAuthConfig.Client(ctx, token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return false
	}

	thread, err := svc.Users.Threads.Get("me", threadID).Format("minimal").Context(ctx).Do()
	if err != nil {
		// list-level error: fail-safe false, the system prefers an
		// unwanted follow-up over stalling a sequence on a transient
		// provider error (§4.C).
		return false
	}

	recipient := strings.ToLower(recipientEmail)
	refs := thread.Messages
	if len(refs) > maxMessages {
		refs = refs[:maxMessages]
	}
	for _, ref := range refs {
		m, err := svc.Users.Messages.Get("me", ref.Id).Format("metadata").
			MetadataHeaders("From", "Date").Context(ctx).Do()
		if err != nil {
			// per-message fetch error: logged and skipped, not a
			// list-level failure.
			log.Printf("replycheck: fetch message %s in thread %s: %v", ref.Id, threadID, err)
			continue
		}

		from, date := headerValue(m.Payload, "From"), headerValue(m.Payload, "Date")
		if from == "" || date == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(from), recipient) {
			continue
		}
		parsed, err := mail.ParseDate(date)
		if err != nil {
			continue
		}
		if parsed.UnixMilli() > sinceMs {
			return true
		}
	}
	return false
}

func headerValue(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
