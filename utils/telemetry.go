package utils

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// LogError logs a structured error to logrus and forwards it to Sentry as
// an exception, the two-sink pattern used for every failure path in the
// worker and sequencer.
func LogError(errorType string, err error, fields map[string]interface{}) {
	entry := logrus.WithFields(logrus.Fields{
		"error_type": errorType,
		"error":      err.Error(),
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Error("error occurred")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", errorType)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// LogEvent logs a structured event and leaves a Sentry breadcrumb for it.
func LogEvent(eventType string, fields map[string]interface{}) {
	entry := logrus.WithFields(logrus.Fields{"event_type": eventType})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("event occurred")

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  eventType,
		Data:      fields,
		Timestamp: time.Now(),
	})
}
