package logger

import (
	"context"
	"log/slog"
	"time"
)

// EventLogger records ingestion events with a stable event_type field so they
// can be filtered downstream. Credentials are never passed in.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger wraps logger; a nil logger uses slog.Default
func NewEventLogger(logger *slog.Logger) *EventLogger {
	return &EventLogger{logger: OrDefault(logger)}
}

// AuthFailure logs a mail server login rejection
func (e *EventLogger) AuthFailure(account, host, reason string) {
	e.logger.Error("authentication_failure",
		slog.String("event_type", "auth_failure"),
		slog.String("account", account),
		slog.String("host", host),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// MessageSkipped logs a single message that was left out of a batch
func (e *EventLogger) MessageSkipped(mailboxID uint, handle, stage string, err error) {
	e.logger.Warn("message_skipped",
		slog.String("event_type", "message_skipped"),
		slog.Uint64("mailbox_id", uint64(mailboxID)),
		slog.String("handle", handle),
		slog.String("stage", stage),
		slog.Any("error", err),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// PathTraversalAttempt logs a stored path that tried to leave its root
func (e *EventLogger) PathTraversalAttempt(attemptedPath string) {
	e.logger.Warn("path_traversal_attempt",
		slog.String("event_type", "path_traversal"),
		slog.String("attempted_path", attemptedPath),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// StorageIntegrityViolation logs a broken shard invariant at critical level
func (e *EventLogger) StorageIntegrityViolation(check, detail string) {
	e.logger.Log(context.Background(), LevelCritical, "storage_integrity_violation",
		slog.String("event_type", "storage_integrity"),
		slog.String("check", check),
		slog.String("detail", detail),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// GetLogger returns the underlying slog.Logger
func (e *EventLogger) GetLogger() *slog.Logger {
	return e.logger
}
