package signal

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"lexsignal/internal/app/telemetry"
	"lexsignal/internal/app/user"
	"lexsignal/internal/pkg/errs"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *memoryRecorder) Record(e telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *memoryRecorder) count(kind telemetry.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// presence returns the user-online and user-offline records for userID in the order they were made.
func (r *memoryRecorder) presence(userID string) []telemetry.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []telemetry.Kind
	for _, e := range r.events {
		if e.IsPresence() && e.UserID == userID {
			out = append(out, e.Kind)
		}
	}
	return out
}

// received is one frame taken off a client's queue.
type received struct {
	Event EventKind
	Data  json.RawMessage
	Raw   string
}

func newTestHub() (*Hub, *memoryRecorder) {
	rec := &memoryRecorder{}
	return NewHub(NewRegistry(), rec), rec
}

// connect opens a socketless connection on the hub goroutine's behalf and discards its greeting.
func connect(t *testing.T, h *Hub, bound user.User) *Client {
	t.Helper()
	c := NewClient(h, nil, bound, nil)
	h.handleConnect(c)
	drain(c)
	return c
}

func emit(t *testing.T, h *Hub, c *Client, kind EventKind, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", kind, err)
	}
	h.handle(inbound{client: c, env: Envelope{Event: kind, Data: data}})
}

// login connects and registers userID, discarding everything the connection received.
func login(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := connect(t, h, user.User{})
	emit(t, h, c, EventRegisterUser, userID)
	drain(c)
	return c
}

func drain(c *Client) []received {
	var out []received
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				panic(err)
			}
			out = append(out, received{Event: env.Event, Data: env.Data, Raw: string(frame)})
		default:
			return out
		}
	}
}

func drainAll(clients ...*Client) {
	for _, c := range clients {
		drain(c)
	}
}

func onlineUsers(t *testing.T, r received) []string {
	t.Helper()
	if r.Event != EventOnlineUsers {
		t.Fatalf("expected online-users, got %s", r.Event)
	}
	var ids []string
	if err := json.Unmarshal(r.Data, &ids); err != nil {
		t.Fatalf("decode online-users: %v", err)
	}
	return ids
}

func errorCode(t *testing.T, frames []received) int {
	t.Helper()
	if len(frames) != 1 || frames[0].Event != EventError {
		t.Fatalf("expected one error event, got %+v", frames)
	}
	var p ErrorPayload
	if err := json.Unmarshal(frames[0].Data, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return p.Code
}

func TestHub_ConnectSendsSnapshot(t *testing.T) {
	h, _ := newTestHub()
	login(t, h, "bob")
	login(t, h, "alice")

	c := NewClient(h, nil, user.User{}, nil)
	h.handleConnect(c)

	frames := drain(c)
	if len(frames) != 1 {
		t.Fatalf("expected one greeting frame, got %d", len(frames))
	}
	if got := onlineUsers(t, frames[0]); !slices.Equal(got, []string{"alice", "bob"}) {
		t.Errorf("expected [alice bob], got %v", got)
	}
}

func TestHub_FirstRegistrationAnnouncesOnline(t *testing.T) {
	h, rec := newTestHub()
	observer := connect(t, h, user.User{})
	a := connect(t, h, user.User{})

	emit(t, h, a, EventRegisterUser, map[string]string{"userId": "alice", "name": "Alice"})

	own := drain(a)
	if len(own) != 1 || !slices.Equal(onlineUsers(t, own[0]), []string{"alice"}) {
		t.Errorf("registering connection should get only the snapshot, got %+v", own)
	}

	seen := drain(observer)
	if len(seen) != 2 {
		t.Fatalf("expected status change and snapshot, got %+v", seen)
	}
	var status UserStatus
	if err := json.Unmarshal(seen[0].Data, &status); err != nil || seen[0].Event != EventUserStatusChanged {
		t.Fatalf("expected user-status-changed first, got %+v", seen[0])
	}
	if status != (UserStatus{UserID: "alice", IsOnline: true}) {
		t.Errorf("unexpected status %+v", status)
	}
	if got := onlineUsers(t, seen[1]); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("expected [alice], got %v", got)
	}

	if rec.count(telemetry.KindUserOnline) != 1 {
		t.Error("expected one user-online record")
	}
}

func TestHub_SecondConnectionDoesNotAnnounce(t *testing.T) {
	h, rec := newTestHub()
	observer := login(t, h, "bob")
	a1 := login(t, h, "alice")
	drainAll(observer)

	a2 := connect(t, h, user.User{})
	emit(t, h, a2, EventRegisterUser, "alice")

	if frames := drain(observer); len(frames) != 0 {
		t.Errorf("second connection must not broadcast, observer got %+v", frames)
	}
	if frames := drain(a1); len(frames) != 0 {
		t.Errorf("first connection must not be notified, got %+v", frames)
	}
	if frames := drain(a2); len(frames) != 1 || frames[0].Event != EventOnlineUsers {
		t.Errorf("second connection should get the snapshot, got %+v", frames)
	}
	if got := h.Registry().ConnectionCount("alice"); got != 2 {
		t.Errorf("expected 2 connections for alice, got %d", got)
	}
	if rec.count(telemetry.KindUserOnline) != 2 {
		t.Errorf("expected user-online for bob and alice only, got %d", rec.count(telemetry.KindUserOnline))
	}
}

func TestHub_RepeatedRegistrationIsIdempotent(t *testing.T) {
	h, _ := newTestHub()
	observer := login(t, h, "bob")
	a := login(t, h, "alice")
	drainAll(observer)

	emit(t, h, a, EventRegisterUser, "alice")

	if frames := drain(observer); len(frames) != 0 {
		t.Errorf("repeat registration must not broadcast, got %+v", frames)
	}
	if got := h.Registry().ConnectionCount("alice"); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}
}

func TestHub_LastDisconnectAnnouncesOffline(t *testing.T) {
	h, rec := newTestHub()
	observer := login(t, h, "bob")
	a1 := login(t, h, "alice")
	a2 := login(t, h, "alice")
	drainAll(observer)

	h.handleDisconnect(a1)
	if frames := drain(observer); len(frames) != 0 {
		t.Errorf("closing one of two connections must not broadcast, got %+v", frames)
	}
	if !h.Registry().IsOnline("alice") {
		t.Fatal("alice should still be online")
	}

	h.handleDisconnect(a2)
	frames := drain(observer)
	if len(frames) != 2 || frames[0].Event != EventUserStatusChanged {
		t.Fatalf("expected offline status and snapshot, got %+v", frames)
	}
	if !strings.Contains(frames[0].Raw, `"isOnline":false`) {
		t.Errorf("expected offline status, got %s", frames[0].Raw)
	}
	if got := onlineUsers(t, frames[1]); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("expected [bob], got %v", got)
	}

	// A second disconnect for the same connection changes nothing.
	h.handleDisconnect(a2)
	if frames := drain(observer); len(frames) != 0 {
		t.Errorf("repeated disconnect must be a no-op, got %+v", frames)
	}
	if rec.count(telemetry.KindUserOffline) != 1 {
		t.Errorf("expected one user-offline record, got %d", rec.count(telemetry.KindUserOffline))
	}
	if _, ok := <-a2.send; ok {
		t.Error("expected closed send queue")
	}
}

func TestHub_ReRegisterUnderNewID(t *testing.T) {
	h, _ := newTestHub()
	observer := login(t, h, "bob")
	c := login(t, h, "alice")
	drainAll(observer)

	emit(t, h, c, EventRegisterUser, "alice2")

	frames := drain(observer)
	var statuses []UserStatus
	for _, f := range frames {
		if f.Event == EventUserStatusChanged {
			var s UserStatus
			_ = json.Unmarshal(f.Data, &s)
			statuses = append(statuses, s)
		}
	}
	want := []UserStatus{{UserID: "alice", IsOnline: false}, {UserID: "alice2", IsOnline: true}}
	if !slices.Equal(statuses, want) {
		t.Errorf("expected %v, got %v", want, statuses)
	}
	if h.Registry().IsOnline("alice") || !h.Registry().IsOnline("alice2") {
		t.Errorf("unexpected presence: %v", h.Registry().ListOnline())
	}
}

func TestHub_ChatMessageFansOutToEveryConnection(t *testing.T) {
	h, _ := newTestHub()
	a1 := login(t, h, "alice")
	a2 := login(t, h, "alice")
	b := login(t, h, "bob")
	drainAll(a1, a2)

	emit(t, h, b, EventSendMessage, ChatMessage{
		ID:         "m-1",
		SenderID:   "mallory",
		SenderName: "Bob",
		ReceiverID: "alice",
		Message:    "hello",
		Timestamp:  json.RawMessage(`"2026-10-18T10:00:00Z"`),
	})

	for _, c := range []*Client{a1, a2} {
		frames := drain(c)
		if len(frames) != 1 || frames[0].Event != EventChatMessage {
			t.Fatalf("expected one chat-message, got %+v", frames)
		}
		var msg ChatMessage
		if err := json.Unmarshal(frames[0].Data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.SenderID != "bob" || msg.Message != "hello" || msg.ID != "m-1" {
			t.Errorf("unexpected relayed message %+v", msg)
		}
	}
	if frames := drain(b); len(frames) != 0 {
		t.Errorf("sender should receive nothing, got %+v", frames)
	}
}

func TestHub_OfflineTargetIsDropped(t *testing.T) {
	h, rec := newTestHub()
	a := login(t, h, "alice")
	b := login(t, h, "bob")
	drainAll(a)

	emit(t, h, b, EventSendMessage, ChatMessage{ID: "m-1", ReceiverID: "carol", Message: "hi"})
	emit(t, h, b, EventEndCall, TargetedPayload{CallID: "call-9", TargetID: "carol"})

	if frames := drain(b); len(frames) != 0 {
		t.Errorf("dropped relays must not answer the sender, got %+v", frames)
	}
	if frames := drain(a); len(frames) != 0 {
		t.Errorf("bystander received %+v", frames)
	}
	if got := rec.count(telemetry.KindRelayDropped); got != 2 {
		t.Errorf("expected 2 relay-dropped records, got %d", got)
	}
}

func TestHub_StartCallToOfflineUserRecordsAttempt(t *testing.T) {
	h, rec := newTestHub()
	b := login(t, h, "bob")

	emit(t, h, b, EventStartVideoCall, StartCallPayload{CallID: "call-1", ParticipantID: "alice", Offer: json.RawMessage(`{}`)})

	if rec.count(telemetry.KindCallStarted) != 1 || rec.count(telemetry.KindCallAttemptOffline) != 1 {
		t.Errorf("expected call-started and call-attempt-offline records, got %+v", rec.events)
	}
}

func TestHub_SignalingPayloadPassesThroughVerbatim(t *testing.T) {
	h, _ := newTestHub()
	a := login(t, h, "alice")
	b := login(t, h, "bob")
	drainAll(a, b)

	offer := "{\"type\": \"offer\",\n  \"sdp\": \"v=0\\r\\no=- 4611731400430051336 2 IN IP4 127.0.0.1\\r\\na=fingerprint:sha-256 <AB:CD>&\"\n}"
	candidate := `{ "candidate" : "candidate:842163049 1 udp 1677729535 203.0.113.7 54400 typ srflx", "sdpMid":"0",  "sdpMLineIndex":0 }`
	answer := "{\n\t\"type\": \"answer\",\n\t\"sdp\": \"v=0\"\n}"

	h.handle(inbound{client: b, env: Envelope{
		Event: EventStartVideoCall,
		Data:  json.RawMessage(`{"callId":"call-42","participantId":"alice","offer":` + offer + `,"callerId":"bob","callerName":"Bob"}`),
	}})
	h.handle(inbound{client: b, env: Envelope{
		Event: EventIceCandidate,
		Data:  json.RawMessage(`{"callId":"call-42","targetId":"alice","candidate":` + candidate + `}`),
	}})
	h.handle(inbound{client: a, env: Envelope{
		Event: EventCallAccepted,
		Data:  json.RawMessage(`{"callId":"call-42","targetId":"bob","answer":` + answer + `}`),
	}})

	frames := drain(a)
	if len(frames) != 2 {
		t.Fatalf("expected incoming call and candidate, got %+v", frames)
	}
	if frames[0].Event != EventVideoCallIncoming || !strings.Contains(frames[0].Raw, `"offer":`+offer) {
		t.Errorf("offer altered: %s", frames[0].Raw)
	}
	if frames[1].Event != EventIceCandidate || !strings.Contains(frames[1].Raw, `"candidate":`+candidate) {
		t.Errorf("candidate altered: %s", frames[1].Raw)
	}

	frames = drain(b)
	if len(frames) != 1 || frames[0].Event != EventCallAnswer || !strings.Contains(frames[0].Raw, `"answer":`+answer) {
		t.Errorf("answer altered: %+v", frames)
	}
}

func TestHub_CallFlow(t *testing.T) {
	h, rec := newTestHub()
	x := login(t, h, "alice")
	y := login(t, h, "bob")
	drainAll(x, y)

	emit(t, h, y, EventStartVideoCall, StartCallPayload{CallID: "call-42", ParticipantID: "alice", Offer: json.RawMessage(`{"type":"offer"}`), CallerName: "Bob"})
	frames := drain(x)
	if len(frames) != 1 || frames[0].Event != EventVideoCallIncoming {
		t.Fatalf("expected video-call-incoming, got %+v", frames)
	}
	var incoming IncomingCall
	_ = json.Unmarshal(frames[0].Data, &incoming)
	if incoming.CallID != "call-42" || incoming.CallerID != "bob" || incoming.CallerName != "Bob" {
		t.Errorf("unexpected incoming call %+v", incoming)
	}

	emit(t, h, x, EventCallAccepted, TargetedPayload{CallID: "call-42", TargetID: "bob", Answer: json.RawMessage(`{"type":"answer"}`)})
	frames = drain(y)
	if len(frames) != 1 || frames[0].Event != EventCallAnswer || !strings.Contains(frames[0].Raw, `"callId":"call-42"`) {
		t.Fatalf("expected call-answer, got %+v", frames)
	}

	emit(t, h, x, EventEndCall, TargetedPayload{CallID: "call-42", TargetID: "bob"})
	frames = drain(y)
	if len(frames) != 1 || frames[0].Event != EventCallEnded || !strings.Contains(frames[0].Raw, `"callId":"call-42"`) {
		t.Fatalf("expected call-ended, got %+v", frames)
	}

	// Terminal events are relayed as often as they are sent.
	emit(t, h, y, EventCallRejected, TargetedPayload{CallID: "call-42", TargetID: "alice"})
	emit(t, h, y, EventCallRejected, TargetedPayload{CallID: "call-42", TargetID: "alice"})
	if frames := drain(x); len(frames) != 2 {
		t.Errorf("expected both call-rejected events, got %+v", frames)
	}

	if rec.count(telemetry.KindCallAccepted) != 1 || rec.count(telemetry.KindCallEnded) != 1 {
		t.Errorf("missing call telemetry: %+v", rec.events)
	}
}

func TestHub_ReadReceiptIsTelemetryOnly(t *testing.T) {
	h, rec := newTestHub()
	a := login(t, h, "alice")
	b := login(t, h, "bob")
	drainAll(a)

	emit(t, h, b, EventMessageSeen, "m-1")

	if frames := drain(a); len(frames) != 0 {
		t.Errorf("read receipt must not be relayed, got %+v", frames)
	}
	if rec.count(telemetry.KindMessageSeen) != 1 {
		t.Error("expected message-seen record")
	}
}

func TestHub_Rejections(t *testing.T) {
	h, _ := newTestHub()
	anon := connect(t, h, user.User{})
	b := login(t, h, "bob")
	drainAll(anon)

	emit(t, h, anon, EventSendMessage, ChatMessage{ReceiverID: "bob", Message: "hi"})
	if code := errorCode(t, drain(anon)); code != errs.ErrNotIdentified {
		t.Errorf("expected %d, got %d", errs.ErrNotIdentified, code)
	}

	emit(t, h, b, EventKind("join-room"), map[string]string{})
	frames := drain(b)
	if code := errorCode(t, frames); code != errs.ErrUnknownEvent {
		t.Errorf("expected %d, got %d", errs.ErrUnknownEvent, code)
	}
	if !strings.Contains(frames[0].Raw, "join-room") {
		t.Errorf("error should name the event, got %s", frames[0].Raw)
	}

	emit(t, h, b, EventStartVideoCall, StartCallPayload{CallID: "call-1"})
	if code := errorCode(t, drain(b)); code != errs.ErrInvalidParams {
		t.Errorf("expected %d, got %d", errs.ErrInvalidParams, code)
	}

	h.handle(inbound{client: b, env: Envelope{Event: EventEndCall, Data: json.RawMessage(`[1,2]`)}})
	if code := errorCode(t, drain(b)); code != errs.ErrInvalidJSONFormat {
		t.Errorf("expected %d, got %d", errs.ErrInvalidJSONFormat, code)
	}

	h.handle(inbound{client: b, reject: errs.NewError(errs.ErrRateLimitExceeded)})
	if code := errorCode(t, drain(b)); code != errs.ErrRateLimitExceeded {
		t.Errorf("expected %d, got %d", errs.ErrRateLimitExceeded, code)
	}
}

func TestHub_BoundIdentity(t *testing.T) {
	h, _ := newTestHub()
	alice := user.User{ID: "alice", Name: "Alice", Verified: true}

	c := connect(t, h, alice)
	emit(t, h, c, EventRegisterUser, "bob")
	if code := errorCode(t, drain(c)); code != errs.ErrIdentityMismatch {
		t.Errorf("expected %d, got %d", errs.ErrIdentityMismatch, code)
	}
	if h.Registry().IsOnline("bob") {
		t.Error("mismatched announcement must not register")
	}

	h.handle(inbound{client: c, env: Envelope{Event: EventRegisterUser}})
	if !h.Registry().IsOnline("alice") {
		t.Fatal("empty announcement should register the token identity")
	}
	if !c.identity.Verified || c.identity.Name != "Alice" {
		t.Errorf("unexpected identity %+v", c.identity)
	}
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	h, _ := newTestHub()
	observer := login(t, h, "bob")
	slow := login(t, h, "alice")
	drainAll(observer)

	for i := 0; i < sendBufferSize; i++ {
		slow.send <- []byte(`{}`)
	}

	login(t, h, "carol")

	if h.Registry().Tracked(slow.id) || h.Registry().IsOnline("alice") {
		t.Fatal("slow connection should have been dropped")
	}

	var wentOffline bool
	for _, f := range drain(observer) {
		if f.Event == EventUserStatusChanged && strings.Contains(f.Raw, `"userId":"alice","isOnline":false`) {
			wentOffline = true
		}
	}
	if !wentOffline {
		t.Error("observer should see alice go offline")
	}
}

func TestHub_SlowConsumerDroppedWhileRegistering(t *testing.T) {
	h, rec := newTestHub()
	observer := login(t, h, "bob")

	c := connect(t, h, user.User{})
	for i := 0; i < sendBufferSize; i++ {
		c.send <- []byte(`{}`)
	}
	emit(t, h, c, EventRegisterUser, "alice")

	if h.Registry().IsOnline("alice") {
		t.Fatal("alice should be offline once her only connection was dropped")
	}
	want := []telemetry.Kind{telemetry.KindUserOnline, telemetry.KindUserOffline}
	if got := rec.presence("alice"); !slices.Equal(got, want) {
		t.Errorf("expected presence records %v, got %v", want, got)
	}

	frames := drain(observer)
	if len(frames) == 0 || !slices.Equal(onlineUsers(t, frames[len(frames)-1]), []string{"bob"}) {
		t.Errorf("observer should end with only bob online, got %+v", frames)
	}
}

func TestHub_RunAndStop(t *testing.T) {
	h, _ := newTestHub()
	go h.Run()

	c := NewClient(h, nil, user.User{}, nil)
	if err := h.Connect(c); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.Dispatch(c, Envelope{Event: EventRegisterUser, Data: json.RawMessage(`"alice"`)})

	deadline := time.After(2 * time.Second)
	for !h.Registry().IsOnline("alice") {
		select {
		case <-deadline:
			t.Fatal("registration was not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.Stop()
	h.Stop()
	<-h.Done()

	for range c.send {
	}
	if h.Registry().Len() != 0 {
		t.Errorf("expected no live connections after stop, got %d", h.Registry().Len())
	}
	if err := h.Connect(NewClient(h, nil, user.User{}, nil)); err != ErrHubStopped {
		t.Errorf("expected ErrHubStopped, got %v", err)
	}
}
