package signal

import (
	"lexsignal/internal/app/telemetry"
	"lexsignal/internal/app/user"
	"lexsignal/internal/pkg/errs"
)

// dispatch routes one inbound event by kind. Hub goroutine only.
func (h *Hub) dispatch(c *Client, env Envelope) {
	if env.Event == EventRegisterUser {
		h.handleRegister(c, env)
		return
	}

	if c.identity.IsZero() {
		h.logger.Warn().
			Str("conn_id", c.id).
			Str("event", string(env.Event)).
			Msg("Event from unidentified connection rejected.")
		h.sendError(c, errs.NewError(errs.ErrNotIdentified))
		return
	}

	switch env.Event {
	case EventSendMessage:
		h.handleSendMessage(c, env)
	case EventMessageSeen:
		h.handleMessageSeen(c, env)
	case EventStartVideoCall:
		h.handleStartVideoCall(c, env)
	case EventCallAccepted:
		h.handleCallAccepted(c, env)
	case EventIceCandidate:
		h.handleIceCandidate(c, env)
	case EventCallRejected:
		h.handleCallRejected(c, env)
	case EventEndCall:
		h.handleEndCall(c, env)
	case EventCallAttemptNotification:
		h.handleCallAttemptNotification(c, env)
	default:
		h.logger.Warn().
			Str("conn_id", c.id).
			Str("event", string(env.Event)).
			Msg("Unknown event received.")
		h.sendError(c, errs.NewError(errs.ErrUnknownEvent, env.Event))
	}
}

// handleRegister binds the connection to the announced user id.
func (h *Hub) handleRegister(c *Client, env Envelope) {
	var p RegisterPayload
	if err := decodePayload(env.Data, &p); err != nil {
		h.sendError(c, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if p.UserID == "" {
		// A token-bound connection may announce itself with an empty payload.
		p.UserID = c.bound.ID
	}
	if p.UserID == "" {
		h.sendError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	if !c.bound.IsZero() && p.UserID != c.bound.ID {
		h.logger.Warn().
			Str("conn_id", c.id).
			Str("bound_user_id", c.bound.ID).
			Str("announced_user_id", p.UserID).
			Msg("Announced user id does not match session.")
		h.sendError(c, errs.NewError(errs.ErrIdentityMismatch))
		return
	}

	if c.identity.ID == p.UserID {
		h.sendOnlineUsers(c)
		return
	}

	if !c.identity.IsZero() {
		if previous, last := h.registry.Unregister(c.id); last {
			h.announceOffline(previous, c)
		}
	}

	name := p.Name
	if name == "" {
		name = c.bound.Name
	}
	c.identity = user.User{ID: p.UserID, Name: name, Verified: !c.bound.IsZero()}

	first := h.registry.Register(p.UserID, c)

	h.logger.Debug().
		Str("conn_id", c.id).
		Str("user_id", p.UserID).
		Bool("verified", c.identity.Verified).
		Int("user_connections", h.registry.ConnectionCount(p.UserID)).
		Msg("Connection registered.")

	if first {
		// Includes the online-users snapshot for c.
		h.announceOnline(p.UserID, c)
		return
	}

	h.sendOnlineUsers(c)
}

func (h *Hub) handleStartVideoCall(c *Client, env Envelope) {
	var p StartCallPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	callerName := p.CallerName
	if callerName == "" {
		callerName = c.identity.Label()
	}

	h.relayIncomingCall(p.ParticipantID, IncomingCall{
		CallID:     p.CallID,
		CallerID:   c.identity.ID,
		CallerName: callerName,
		Offer:      p.Offer,
	})
}

func (h *Hub) handleCallAccepted(c *Client, env Envelope) {
	var p TargetedPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	h.relayCallAccepted(c.identity.ID, p.TargetID, CallAnswer{CallID: p.CallID, Answer: p.Answer})
}

func (h *Hub) handleIceCandidate(c *Client, env Envelope) {
	var p TargetedPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	h.relayIceCandidate(p.TargetID, IceCandidate{CallID: p.CallID, Candidate: p.Candidate})
}

func (h *Hub) handleCallRejected(c *Client, env Envelope) {
	var p TargetedPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	h.relayCallRejected(c.identity.ID, p.TargetID, CallRef{CallID: p.CallID})
}

func (h *Hub) handleEndCall(c *Client, env Envelope) {
	var p TargetedPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	h.relayCallEnded(c.identity.ID, p.TargetID, CallRef{CallID: p.CallID})
}

func (h *Hub) handleCallAttemptNotification(c *Client, env Envelope) {
	var p CallAttemptPayload
	if !h.decodeValid(c, env, &p) {
		return
	}

	callerName := p.CallerName
	if callerName == "" {
		callerName = c.identity.Label()
	}

	h.notifyCallAttemptToOfflineUser(p.TargetUserID, c.identity.ID, callerName)
}

// relayIncomingCall delivers video-call-incoming to every connection of the callee. A callee
// with no live connection is recorded as an offline call attempt.
func (h *Hub) relayIncomingCall(targetUserID string, call IncomingCall) int {
	delivered := h.deliver(targetUserID, EventVideoCallIncoming, call)

	e := telemetry.NewEvent(telemetry.KindCallStarted)
	e.UserID = call.CallerID
	e.TargetID = targetUserID
	e.CallID = call.CallID
	e.ActorName = call.CallerName
	h.recorder.Record(e)

	if delivered == 0 {
		h.notifyCallAttemptToOfflineUser(targetUserID, call.CallerID, call.CallerName)
	}

	return delivered
}

// relayCallAccepted delivers call-answer to the caller.
func (h *Hub) relayCallAccepted(fromUserID, targetUserID string, answer CallAnswer) int {
	delivered := h.deliver(targetUserID, EventCallAnswer, answer)
	h.recordCall(telemetry.KindCallAccepted, fromUserID, targetUserID, answer.CallID, delivered)
	return delivered
}

// relayIceCandidate forwards one candidate to the peer. Drops are only logged; candidates
// arrive in bursts and a late one for a finished call is normal.
func (h *Hub) relayIceCandidate(targetUserID string, candidate IceCandidate) int {
	delivered := h.deliver(targetUserID, EventIceCandidate, candidate)
	if delivered == 0 {
		h.logger.Debug().
			Str("target_id", targetUserID).
			Str("call_id", candidate.CallID).
			Msg("ICE candidate dropped, target offline.")
	}
	return delivered
}

// relayCallRejected delivers call-rejected to the caller.
func (h *Hub) relayCallRejected(fromUserID, targetUserID string, ref CallRef) int {
	delivered := h.deliver(targetUserID, EventCallRejected, ref)
	h.recordCall(telemetry.KindCallRejected, fromUserID, targetUserID, ref.CallID, delivered)
	return delivered
}

// relayCallEnded delivers call-ended to the other participant.
func (h *Hub) relayCallEnded(fromUserID, targetUserID string, ref CallRef) int {
	delivered := h.deliver(targetUserID, EventCallEnded, ref)
	h.recordCall(telemetry.KindCallEnded, fromUserID, targetUserID, ref.CallID, delivered)
	return delivered
}

// notifyCallAttemptToOfflineUser records a call placed to a user with no live connection.
// Nothing is sent to any connection.
func (h *Hub) notifyCallAttemptToOfflineUser(targetUserID, callerID, callerName string) {
	h.logger.Info().
		Str("target_id", targetUserID).
		Str("caller_id", callerID).
		Msg("Call attempted to offline user.")

	e := telemetry.NewEvent(telemetry.KindCallAttemptOffline)
	e.UserID = callerID
	e.TargetID = targetUserID
	e.ActorName = callerName
	h.recorder.Record(e)
}

// recordCall records a call-state transition, or a relay drop when nobody received it.
func (h *Hub) recordCall(kind telemetry.Kind, fromUserID, targetUserID, callID string, delivered int) {
	e := telemetry.NewEvent(kind)
	e.UserID = fromUserID
	e.TargetID = targetUserID
	e.CallID = callID
	h.recorder.Record(e)

	if delivered == 0 {
		h.recordDropped(string(kind), fromUserID, targetUserID, callID)
	}
}

// recordDropped records an addressed event nobody received; detail names what was dropped.
func (h *Hub) recordDropped(detail, fromUserID, targetUserID, callID string) {
	h.logger.Debug().
		Str("detail", detail).
		Str("user_id", fromUserID).
		Str("target_id", targetUserID).
		Msg("Relay dropped, target offline.")

	e := telemetry.NewEvent(telemetry.KindRelayDropped)
	e.UserID = fromUserID
	e.TargetID = targetUserID
	e.CallID = callID
	e.Detail = detail
	h.recorder.Record(e)
}

// validator is implemented by payloads with required fields.
type validator interface {
	validate() error
}

// decodeValid decodes the payload into dst and validates it, answering the connection with an
// error event on failure.
func (h *Hub) decodeValid(c *Client, env Envelope, dst validator) bool {
	if err := decodePayload(env.Data, dst); err != nil {
		h.logger.Warn().Err(err).
			Str("conn_id", c.id).
			Str("event", string(env.Event)).
			Msg("Malformed event payload.")
		h.sendError(c, errs.NewError(errs.ErrInvalidJSONFormat))
		return false
	}

	if err := dst.validate(); err != nil {
		h.logger.Warn().Err(err).
			Str("conn_id", c.id).
			Str("event", string(env.Event)).
			Msg("Invalid event payload.")
		h.sendError(c, errs.NewError(errs.ErrInvalidParams))
		return false
	}

	return true
}
