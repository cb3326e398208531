package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSSink publishes each record as JSON on "<prefix>.<kind>", e.g. lexsignal.call-attempt-offline.
// Downstream notifiers (push, email) subscribe to the kinds they care about.
type NATSSink struct {
	conn   Publisher
	prefix string
}

// DialNATS connects to url and returns a sink publishing under prefix.
func DialNATS(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("lexsignal-telemetry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSSink(conn, prefix), nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject a record of kind is published on.
func (s *NATSSink) Subject(kind Kind) string {
	return s.prefix + "." + string(kind)
}

func (s *NATSSink) Write(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(s.Subject(e.Kind))
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, e.ID.String())

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	// Notifiers act on missed calls, so those are flushed before returning.
	if e.Kind == KindCallAttemptOffline {
		return s.conn.FlushWithContext(ctx)
	}
	return nil
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
