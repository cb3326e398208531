package signal

import (
	"lexsignal/internal/app/telemetry"
)

func (h *Hub) handleSendMessage(c *Client, env Envelope) {
	var msg ChatMessage
	if !h.decodeValid(c, env, &msg) {
		return
	}

	// The sender is whoever owns the connection, whatever the payload claims.
	msg.SenderID = c.identity.ID
	if msg.SenderName == "" {
		msg.SenderName = c.identity.Label()
	}

	h.relayMessage(msg)
}

func (h *Hub) handleMessageSeen(c *Client, env Envelope) {
	var p MessageSeenPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	h.relayReadReceipt(c.identity.ID, p.MessageID)
}

// relayMessage delivers a chat message to every live connection of its receiver. Nothing is
// stored; a message for an offline receiver is dropped.
func (h *Hub) relayMessage(msg ChatMessage) int {
	delivered := h.deliver(msg.ReceiverID, EventChatMessage, msg)
	if delivered == 0 {
		h.recordDropped(string(EventChatMessage), msg.SenderID, msg.ReceiverID, "")
	}
	return delivered
}

// relayReadReceipt records that userID has seen messageID. No state is kept and nothing is sent.
func (h *Hub) relayReadReceipt(userID, messageID string) {
	h.logger.Debug().
		Str("user_id", userID).
		Str("message_id", messageID).
		Msg("Message seen.")

	e := telemetry.NewEvent(telemetry.KindMessageSeen)
	e.UserID = userID
	e.MessageID = messageID
	h.recorder.Record(e)
}
