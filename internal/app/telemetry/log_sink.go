package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink logs through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e Event) error {
	ev := s.logger.Info()
	if e.Kind == KindRelayDropped || e.Kind == KindCallAttemptOffline {
		ev = s.logger.Debug()
	}

	ev.Str("event_id", e.ID.String()).
		Str("kind", string(e.Kind)).
		Time("occurred_at", e.OccurredAt)

	for k, v := range map[string]string{
		"user_id":    e.UserID,
		"target_id":  e.TargetID,
		"call_id":    e.CallID,
		"message_id": e.MessageID,
		"actor_name": e.ActorName,
		"detail":     e.Detail,
	} {
		if v != "" {
			ev.Str(k, v)
		}
	}

	ev.Msg("Signaling event")
	return nil
}

func (s *LogSink) Close() error { return nil }
