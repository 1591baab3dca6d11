package dispatch

import "log/slog"

// RetryLogEntry is the structured schema spec §6 requires per failed
// attempt (including the final one that routes to DLQ).
type RetryLogEntry struct {
	Level          string `json:"level"`
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	SubscriptionID string `json:"subscription_id"`
	Attempt        int    `json:"attempt"`
	MaxAttempts    int    `json:"max_attempts"`
	DelayMS        int64  `json:"delay_ms"`
	Error          string `json:"error"`
}

// RetryLogSink receives one entry per failed attempt. Spec §6 requires the
// entry be "emitted via an injectable sink" — callers that want the entries
// streamed to a dashboard (internal/eventsocket) or aggregated elsewhere
// supply their own; DefaultRetryLogSink logs through slog, matching the
// teacher's cmd/server/main.go JSON logging setup.
type RetryLogSink func(entry RetryLogEntry)

// DefaultRetryLogSink logs each entry at warn level with the schema's
// fields as structured attributes.
func DefaultRetryLogSink(logger *slog.Logger) RetryLogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e RetryLogEntry) {
		logger.Warn("dispatch attempt failed",
			"event_id", e.EventID,
			"event_type", e.EventType,
			"subscription_id", e.SubscriptionID,
			"attempt", e.Attempt,
			"max_attempts", e.MaxAttempts,
			"delay_ms", e.DelayMS,
			"error", e.Error,
		)
	}
}

// TerminalHook receives one notification per event reaching a terminal
// status (done or dlq). Optional — callers that want terminal transitions
// streamed to a dashboard (internal/eventsocket) supply their own; nil
// means no one is notified.
type TerminalHook func(eventID, eventType, status string)
