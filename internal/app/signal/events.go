/*
Package signal implements the realtime presence and signaling core: which users are online
across their connections, point-to-point chat relay and WebRTC call-setup brokering.

This file defines the wire envelope and the closed set of event kinds with their payloads.
*/
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind names one event on the wire.
type EventKind string

// Client to server.
const (
	EventRegisterUser            EventKind = "register-user"
	EventSendMessage             EventKind = "send-message"
	EventMessageSeen             EventKind = "message-seen"
	EventStartVideoCall          EventKind = "start-video-call"
	EventCallAccepted            EventKind = "call-accepted"
	EventIceCandidate            EventKind = "ice-candidate"
	EventCallRejected            EventKind = "call-rejected"
	EventEndCall                 EventKind = "end-call"
	EventCallAttemptNotification EventKind = "call-attempt-notification"
)

// Server to client. EventIceCandidate and EventCallRejected keep their names in both directions.
const (
	EventUserStatusChanged EventKind = "user-status-changed"
	EventOnlineUsers       EventKind = "online-users"
	EventChatMessage       EventKind = "chat-message"
	EventVideoCallIncoming EventKind = "video-call-incoming"
	EventCallAnswer        EventKind = "call-answer"
	EventCallEnded         EventKind = "call-ended"
	EventError             EventKind = "error"
)

// Envelope is one frame on the socket, in either direction.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errMissingField = errors.New("missing required field")

// RegisterPayload is the identity announced by register-user.
// On the wire it is either a bare JSON string or {"userId": ..., "name": ...}.
type RegisterPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// UnmarshalJSON accepts both the bare string and the object form.
func (p *RegisterPayload) UnmarshalJSON(b []byte) error {
	if s, ok := bareString(b); ok {
		p.UserID = s
		return nil
	}

	type alias RegisterPayload
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = RegisterPayload(v)
	p.UserID = strings.TrimSpace(p.UserID)
	return nil
}

// ChatMessage is relayed from send-message to chat-message unchanged, except that the sender
// fields are stamped from the sending connection.
type ChatMessage struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	ReceiverID string          `json:"receiverId"`
	Message    string          `json:"message"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	IsRead     bool            `json:"isRead"`
}

func (m ChatMessage) validate() error {
	if m.ReceiverID == "" {
		return errMissingField
	}
	return nil
}

// MessageSeenPayload is the read receipt; a bare string or {"messageId": ...}.
type MessageSeenPayload struct {
	MessageID string `json:"messageId"`
}

// UnmarshalJSON accepts both the bare string and the object form.
func (p *MessageSeenPayload) UnmarshalJSON(b []byte) error {
	if s, ok := bareString(b); ok {
		p.MessageID = s
		return nil
	}

	type alias MessageSeenPayload
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = MessageSeenPayload(v)
	return nil
}

func (p MessageSeenPayload) validate() error {
	if p.MessageID == "" {
		return errMissingField
	}
	return nil
}

// StartCallPayload is sent by the caller with start-video-call.
type StartCallPayload struct {
	CallID          string          `json:"callId"`
	ParticipantID   string          `json:"participantId"`
	ParticipantName string          `json:"participantName,omitempty"`
	Offer           json.RawMessage `json:"offer"`
	CallerID        string          `json:"callerId"`
	CallerName      string          `json:"callerName"`
}

func (p StartCallPayload) validate() error {
	if p.CallID == "" || p.ParticipantID == "" {
		return errMissingField
	}
	return nil
}

// TargetedPayload carries the routing fields shared by the in-call events.
// Answer and Candidate are opaque to the server.
type TargetedPayload struct {
	CallID    string          `json:"callId"`
	TargetID  string          `json:"targetId"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (p TargetedPayload) validate() error {
	if p.TargetID == "" {
		return errMissingField
	}
	return nil
}

// CallAttemptPayload reports a call placed to a user with no live connection.
type CallAttemptPayload struct {
	TargetUserID string `json:"targetUserId"`
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
}

func (p CallAttemptPayload) validate() error {
	if p.TargetUserID == "" {
		return errMissingField
	}
	return nil
}

// IncomingCall is delivered as video-call-incoming.
type IncomingCall struct {
	CallID     string          `json:"callId"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
	Offer      json.RawMessage `json:"offer"`
}

func (p IncomingCall) appendJSON(dst []byte) ([]byte, error) {
	w := objectWriter{buf: dst}
	w.field("callId", p.CallID)
	w.field("callerId", p.CallerID)
	w.field("callerName", p.CallerName)
	w.raw("offer", p.Offer)
	return w.close()
}

// CallAnswer is delivered as call-answer.
type CallAnswer struct {
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer"`
}

func (p CallAnswer) appendJSON(dst []byte) ([]byte, error) {
	w := objectWriter{buf: dst}
	w.field("callId", p.CallID)
	w.raw("answer", p.Answer)
	return w.close()
}

// IceCandidate is delivered as ice-candidate.
type IceCandidate struct {
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

func (p IceCandidate) appendJSON(dst []byte) ([]byte, error) {
	w := objectWriter{buf: dst}
	w.field("callId", p.CallID)
	w.raw("candidate", p.Candidate)
	return w.close()
}

// CallRef is delivered as call-rejected and call-ended.
type CallRef struct {
	CallID string `json:"callId"`
}

// UserStatus is delivered as user-status-changed.
type UserStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// ErrorPayload is delivered as error, to the offending connection only.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// opaqueAppender is implemented by payloads that carry peer-to-peer JSON. encoding/json
// compacts every json.RawMessage it writes, so those payloads append their own bytes.
type opaqueAppender interface {
	appendJSON(dst []byte) ([]byte, error)
}

// encodeEnvelope renders an outbound frame. Opaque offer, answer and candidate values are
// copied into the frame byte for byte; HTML escaping is disabled everywhere else.
func encodeEnvelope(kind EventKind, payload any) ([]byte, error) {
	event, err := marshalValue(kind)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 128)
	frame = append(frame, `{"event":`...)
	frame = append(frame, event...)
	frame = append(frame, `,"data":`...)

	if p, ok := payload.(opaqueAppender); ok {
		frame, err = p.appendJSON(frame)
	} else {
		var data []byte
		data, err = marshalValue(payload)
		frame = append(frame, data...)
	}
	if err != nil {
		return nil, err
	}

	return append(frame, '}'), nil
}

func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// objectWriter appends the members of one JSON object in declaration order.
type objectWriter struct {
	buf   []byte
	count int
	err   error
}

func (w *objectWriter) key(name string) {
	if w.count == 0 {
		w.buf = append(w.buf, '{')
	} else {
		w.buf = append(w.buf, ',')
	}
	w.count++
	w.buf = append(w.buf, '"')
	w.buf = append(w.buf, name...)
	w.buf = append(w.buf, '"', ':')
}

func (w *objectWriter) field(name string, v any) {
	if w.err != nil {
		return
	}
	b, err := marshalValue(v)
	if err != nil {
		w.err = err
		return
	}
	w.key(name)
	w.buf = append(w.buf, b...)
}

// raw appends v untouched; an absent value is written as null.
func (w *objectWriter) raw(name string, v json.RawMessage) {
	if w.err != nil {
		return
	}
	if len(bytes.TrimSpace(v)) == 0 {
		v = json.RawMessage("null")
	} else if !json.Valid(v) {
		w.err = fmt.Errorf("member %q is not valid JSON", name)
		return
	}
	w.key(name)
	w.buf = append(w.buf, v...)
}

func (w *objectWriter) close() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.count == 0 {
		w.buf = append(w.buf, '{')
	}
	return append(w.buf, '}'), nil
}

// decodePayload unmarshals data into dst; an absent payload decodes as JSON null.
func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Unmarshal(data, dst)
}

func bareString(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}
