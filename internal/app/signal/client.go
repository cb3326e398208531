/*
Package signal implements the realtime presence and signaling core.

This file defines Client, one WebSocket connection (one browser tab or device). A Client never
mutates shared state itself: its read pump hands every decoded frame to the Hub, and its write
pump drains the queue the Hub fills.
*/
package signal

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lexsignal/internal/app/user"
	"lexsignal/internal/pkg/errs"
	"lexsignal/internal/pkg/logx"
	"lexsignal/internal/pkg/randx"
)

const (
	// timeout for one write to the connection.
	writeWait = 10 * time.Second

	// time allowed between pongs before the connection is considered dead.
	pongWait = 60 * time.Second

	// ping interval; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// largest inbound frame accepted. SDP offers with many candidates stay well below it.
	maxMessageSize = 64 << 10

	// outbound queue length per connection; a full queue marks a slow consumer.
	sendBufferSize = 256
)

// Client is one live connection.
type Client struct {
	id  string
	hub *Hub

	// nil for connections created in tests without a socket.
	conn *websocket.Conn

	// bound is the identity proven by the handshake token; zero when none was presented.
	bound user.User

	// identity announced with register-user. Owned by the hub goroutine.
	identity user.User

	// queued outbound frames. Only the hub sends on or closes it.
	send chan []byte

	// limits inbound events; nil disables limiting.
	limiter *rate.Limiter

	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, bound user.User, limiter *rate.Limiter) *Client {
	id := randx.ConnectionID()

	logCtx := logx.Logger().With().Str("conn_id", id)
	if !bound.IsZero() {
		logCtx = logCtx.Str("bound_user_id", bound.ID)
	}

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		bound:   bound,
		send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
		logger:  logCtx.Logger(),
	}
}

// ID returns the opaque connection id.
func (c *Client) ID() string {
	return c.id
}

// Serve runs the connection until it closes: it starts the write pump, announces the connection
// to the hub and then blocks in the read pump.
func (c *Client) Serve() {
	if err := c.hub.Connect(c); err != nil {
		c.logger.Warn().Err(err).Msg("Hub refused connection.")
		c.closeWithCode(websocket.CloseTryAgainLater, errs.NewError(errs.ErrServiceStopping).Message)
		return
	}

	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads frames until the connection fails, then asks the hub to unregister it.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn().Int("message_type", messageType).Msg("Client sent non-text frame")
			continue
		}

		c.processInboundMessage(messageBytes)
	}
}

// processInboundMessage applies the event rate limit, decodes the envelope and forwards it to the hub.
func (c *Client) processInboundMessage(messageBytes []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn().Msg("Client exceeded event rate limit, dropping event")
		c.hub.Reject(c, errs.NewError(errs.ErrRateLimitExceeded))
		return
	}

	var env Envelope
	if err := json.Unmarshal(messageBytes, &env); err != nil || env.Event == "" {
		c.logger.Warn().Err(err).
			Int("size", len(messageBytes)).
			Msg("Client sent invalid envelope")
		c.hub.Reject(c, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	c.hub.Dispatch(c, env)
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	c.hub.Disconnect(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump writes queued frames and periodic pings. It exits, closing the socket, when the hub
// closes the queue or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage returns false when the pump must stop.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		// The hub dropped this connection.
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// closeWithCode sends a close frame and closes a connection the hub never accepted.
func (c *Client) closeWithCode(code int, reason string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send close frame")
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// enqueue queues one frame without blocking. Hub goroutine only.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
