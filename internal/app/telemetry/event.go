/*
Package telemetry records what the signaling core did without ever blocking it.

Records are queued into a bounded buffer and drained by one worker goroutine that hands them
to the configured sinks (structured log, Postgres audit table, NATS subjects, Redis presence
mirror). Nothing here is read back by the core.
*/
package telemetry

import (
	"time"

	"github.com/google/uuid"

	"lexsignal/internal/pkg/randx"
)

// Kind classifies a telemetry record.
type Kind string

const (
	KindUserOnline         Kind = "user-online"
	KindUserOffline        Kind = "user-offline"
	KindCallStarted        Kind = "call-started"
	KindCallAccepted       Kind = "call-accepted"
	KindCallRejected       Kind = "call-rejected"
	KindCallEnded          Kind = "call-ended"
	KindCallAttemptOffline Kind = "call-attempt-offline"
	KindMessageSeen        Kind = "message-seen"
	KindRelayDropped       Kind = "relay-dropped"
)

// Event is one telemetry record. Only the fields relevant to Kind are set.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"userId,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	CallID     string    `json:"callId,omitempty"`
	MessageID  string    `json:"messageId,omitempty"`
	ActorName  string    `json:"actorName,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewEvent stamps a record of the given kind with an id and the current time.
func NewEvent(kind Kind) Event {
	return Event{
		ID:         randx.EventID(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

// IsPresence reports whether the record is a presence transition.
func (e Event) IsPresence() bool {
	return e.Kind == KindUserOnline || e.Kind == KindUserOffline
}
