/*
Package signal implements the realtime presence and signaling core.

This file defines the Hub, the single goroutine that owns connection lifecycles. Connects,
disconnects and every inbound event are serialized through its Run loop, so presence
transitions and the broadcasts announcing them are never interleaved.
*/
package signal

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"lexsignal/internal/app/telemetry"
	"lexsignal/internal/pkg/errs"
	"lexsignal/internal/pkg/logx"
)

// inboundChannelBuffer bounds the events waiting for the hub across all connections.
const inboundChannelBuffer = 1024

// ErrHubStopped is returned when a connection arrives after Stop.
var ErrHubStopped = errors.New("signal hub stopped")

// inbound is one decoded frame, or a rejection detected by the read pump.
type inbound struct {
	client *Client
	env    Envelope
	reject *errs.CustomError
}

// Hub routes events between connections and keeps the Registry in step with them.
type Hub struct {
	registry *Registry
	recorder telemetry.Recorder

	// a channel for connections completing the handshake.
	connect chan *Client

	// a channel for connections whose read pump ended.
	disconnect chan *Client

	// a buffered channel for decoded inbound frames.
	inbound chan inbound

	// closed by Stop.
	stopChan chan struct{}
	stopOnce sync.Once

	// closed when Run returns.
	done chan struct{}

	logger zerolog.Logger
}

// NewHub creates a Hub over registry. A nil recorder discards telemetry.
func NewHub(registry *Registry, recorder telemetry.Recorder) *Hub {
	if recorder == nil {
		recorder = telemetry.Discard
	}

	return &Hub{
		registry:   registry,
		recorder:   recorder,
		connect:    make(chan *Client),
		disconnect: make(chan *Client),
		inbound:    make(chan inbound, inboundChannelBuffer),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logx.Component("hub"),
	}
}

// Registry exposes the presence registry for read-only queries.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes connection lifecycle and inbound events until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	defer h.closeAll()

	h.logger.Info().Msg("Signal hub running.")

	for {
		select {
		case client := <-h.connect:
			h.handleConnect(client)

		case client := <-h.disconnect:
			h.handleDisconnect(client)

		case in := <-h.inbound:
			h.handle(in)

		case <-h.stopChan:
			h.logger.Info().Msg("Signal hub stop initiated.")
			return
		}
	}
}

// Stop ends the Run loop, which then closes every connection's queue. Wait on Done to know
// when that has happened.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Connect hands a freshly upgraded connection to the hub.
func (h *Hub) Connect(c *Client) error {
	select {
	case h.connect <- c:
		return nil
	case <-h.stopChan:
		return ErrHubStopped
	}
}

// Disconnect reports that the connection's read pump ended. Repeated calls are harmless.
func (h *Hub) Disconnect(c *Client) {
	select {
	case h.disconnect <- c:
	case <-h.stopChan:
	}
}

// Dispatch queues one decoded event from c.
func (h *Hub) Dispatch(c *Client, env Envelope) {
	select {
	case h.inbound <- inbound{client: c, env: env}:
	case <-h.stopChan:
	}
}

// Reject asks the hub to answer c with an error event.
func (h *Hub) Reject(c *Client, customErr *errs.CustomError) {
	select {
	case h.inbound <- inbound{client: c, reject: customErr}:
	case <-h.stopChan:
	}
}

func (h *Hub) handleConnect(c *Client) {
	h.registry.Track(c)

	h.logger.Debug().
		Str("conn_id", c.id).
		Int("total_connections", h.registry.Len()).
		Msg("Connection opened.")

	h.sendOnlineUsers(c)
}

func (h *Hub) handleDisconnect(c *Client) {
	h.dropConnection(c, "closed")
}

// dropConnection removes c, closes its queue and announces the user offline when c was the
// user's last connection. It is a no-op for connections already removed.
func (h *Hub) dropConnection(c *Client, reason string) {
	userID, last, ok := h.registry.Remove(c.id)
	if !ok {
		return
	}

	close(c.send)

	h.logger.Debug().
		Str("conn_id", c.id).
		Str("user_id", userID).
		Str("reason", reason).
		Int("total_connections", h.registry.Len()).
		Msg("Connection closed.")

	if last {
		h.announceOffline(userID, c)
	}
}

// closeAll closes every queue on shutdown without announcing anybody offline.
func (h *Hub) closeAll() {
	clients := h.registry.All()
	for _, c := range clients {
		if _, _, ok := h.registry.Remove(c.id); ok {
			close(c.send)
		}
	}

	h.logger.Info().
		Int("closed_connections", len(clients)).
		Msg("Signal hub stopped.")
}

// handle runs one inbound event. A panic in a handler is logged and does not stop the hub.
func (h *Hub) handle(in inbound) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str("conn_id", in.client.id).
				Str("event", string(in.env.Event)).
				Msg("Recovered from panic while handling event.")
		}
	}()

	if !h.registry.Tracked(in.client.id) {
		// The connection was dropped while this event was queued.
		return
	}

	if in.reject != nil {
		h.sendError(in.client, in.reject)
		return
	}

	h.dispatch(in.client, in.env)
}

// announceOnline tells everybody else that userID came online, then sends everybody the new list.
// The record goes out first: a broadcast may drop origin and record its offline transition.
func (h *Hub) announceOnline(userID string, origin *Client) {
	h.logger.Info().
		Str("user_id", userID).
		Int("online_users", h.registry.OnlineCount()).
		Msg("User online.")

	e := telemetry.NewEvent(telemetry.KindUserOnline)
	e.UserID = userID
	e.ActorName = origin.identity.Name
	h.recorder.Record(e)

	h.broadcast(EventUserStatusChanged, UserStatus{UserID: userID, IsOnline: true}, origin)
	h.broadcastOnlineUsers()
}

// announceOffline tells everybody else that userID went offline, then sends everybody the new list.
func (h *Hub) announceOffline(userID string, origin *Client) {
	h.logger.Info().
		Str("user_id", userID).
		Int("online_users", h.registry.OnlineCount()).
		Msg("User offline.")

	e := telemetry.NewEvent(telemetry.KindUserOffline)
	e.UserID = userID
	h.recorder.Record(e)

	h.broadcast(EventUserStatusChanged, UserStatus{UserID: userID, IsOnline: false}, origin)
	h.broadcastOnlineUsers()
}

func (h *Hub) sendOnlineUsers(c *Client) {
	h.sendTo(c, EventOnlineUsers, h.registry.ListOnline())
}

func (h *Hub) broadcastOnlineUsers() {
	h.broadcast(EventOnlineUsers, h.registry.ListOnline(), nil)
}

// broadcast sends one event to every live connection except, when non-nil, except.
func (h *Hub) broadcast(kind EventKind, payload any, except *Client) {
	frame, err := encodeEnvelope(kind, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(kind)).Msg("Error encoding broadcast.")
		return
	}

	var slow []*Client
	for _, c := range h.registry.All() {
		if c == except {
			continue
		}
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}

	h.dropSlow(slow)
}

// deliver sends one event to every connection registered for userID and returns how many
// connections accepted it. Zero means the user is offline and the event was dropped.
func (h *Hub) deliver(userID string, kind EventKind, payload any) int {
	targets := h.registry.ConnectionsOf(userID)
	if len(targets) == 0 {
		return 0
	}

	frame, err := encodeEnvelope(kind, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(kind)).Msg("Error encoding event.")
		return 0
	}

	delivered := 0
	var slow []*Client
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}

	h.dropSlow(slow)

	return delivered
}

func (h *Hub) sendTo(c *Client, kind EventKind, payload any) {
	frame, err := encodeEnvelope(kind, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(kind)).Msg("Error encoding event.")
		return
	}

	if !c.enqueue(frame) {
		h.dropSlow([]*Client{c})
	}
}

// sendError answers the offending connection only.
func (h *Hub) sendError(c *Client, customErr *errs.CustomError) {
	h.sendTo(c, EventError, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
}

// dropSlow disconnects connections whose queue is full.
func (h *Hub) dropSlow(clients []*Client) {
	for _, c := range clients {
		h.logger.Warn().
			Str("conn_id", c.id).
			Str("user_id", c.identity.ID).
			Msg("Client send queue full, dropping connection.")

		h.dropConnection(c, "slow consumer")
	}
}
