// Package audit records who changed what after a workflow commits. Recording
// is best-effort: a sink failure is logged and never reaches the caller.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	Details    string    `json:"details"`
	UserID     string    `json:"user_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Sink persists entries somewhere durable.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Write(ctx context.Context, e Entry) error { return f(ctx, e) }

// Trail is the fire-and-forget call workflow code makes after a successful mutation.
type Trail interface {
	Log(ctx context.Context, action, entityType, details, userID string)
}

// Recorder fans an entry out to every sink.
type Recorder struct {
	sinks  []Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecorder(logger zerolog.Logger, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, logger: logger, now: time.Now}
}

func (r *Recorder) Log(ctx context.Context, action, entityType, details, userID string) {
	e := Entry{
		Action:     action,
		EntityType: entityType,
		Details:    details,
		UserID:     userID,
		RecordedAt: r.now().UTC(),
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			r.logger.Warn().Err(err).
				Str("action", action).
				Str("entity_type", entityType).
				Msg("audit sink write failed")
		}
	}
}

type nopTrail struct{}

func (nopTrail) Log(context.Context, string, string, string, string) {}

// Nop discards every entry.
func Nop() Trail { return nopTrail{} }

// LogSink writes entries as structured log lines. It is the fallback when no
// durable sink is configured.
func LogSink(logger zerolog.Logger) Sink {
	return SinkFunc(func(_ context.Context, e Entry) error {
		logger.Info().
			Str("action", e.Action).
			Str("entity_type", e.EntityType).
			Str("details", e.Details).
			Str("user_id", e.UserID).
			Time("recorded_at", e.RecordedAt).
			Msg("audit")
		return nil
	})
}
