package telemetry

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPresenceKey = "lexsignal:online"

func newTestRedisSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	sink, err := DialRedis(context.Background(), mr.Addr(), "", 0, testPresenceKey)
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	return sink, mr
}

func presenceEvent(kind Kind, userID string) Event {
	e := NewEvent(kind)
	e.UserID = userID
	return e
}

func members(t *testing.T, mr *miniredis.Miniredis) []string {
	t.Helper()

	if !mr.Exists(testPresenceKey) {
		return nil
	}
	ids, err := mr.Members(testPresenceKey)
	if err != nil {
		t.Fatalf("read presence set: %v", err)
	}
	slices.Sort(ids)
	return ids
}

func TestRedisSink_Channel(t *testing.T) {
	sink := NewRedisSink(nil, testPresenceKey)
	if sink.Channel() != "lexsignal:online:events" {
		t.Errorf("unexpected channel %q", sink.Channel())
	}
}

func TestRedisSink_DialResetsStaleSet(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := mr.SAdd(testPresenceKey, "ghost"); err != nil {
		t.Fatal(err)
	}

	sink, err := DialRedis(context.Background(), mr.Addr(), "", 0, testPresenceKey)
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	defer sink.Close()

	if mr.Exists(testPresenceKey) {
		t.Error("a previous process's online set should be cleared on start")
	}
}

func TestRedisSink_DialUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := DialRedis(ctx, addr, "", 0, testPresenceKey); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestRedisSink_PresenceMirrorsOnlineSet(t *testing.T) {
	sink, mr := newTestRedisSink(t)
	ctx := context.Background()

	for _, e := range []Event{
		presenceEvent(KindUserOnline, "alice"),
		presenceEvent(KindUserOnline, "bob"),
		presenceEvent(KindUserOnline, "alice"),
	} {
		if err := sink.Write(ctx, e); err != nil {
			t.Fatalf("Write %s failed: %v", e.Kind, err)
		}
	}
	if got := members(t, mr); !slices.Equal(got, []string{"alice", "bob"}) {
		t.Errorf("expected [alice bob] online, got %v", got)
	}

	if err := sink.Write(ctx, presenceEvent(KindUserOffline, "alice")); err != nil {
		t.Fatalf("Write user-offline failed: %v", err)
	}
	if got := members(t, mr); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("expected [bob] online, got %v", got)
	}

	// Offline for somebody never seen online is harmless.
	if err := sink.Write(ctx, presenceEvent(KindUserOffline, "carol")); err != nil {
		t.Fatalf("Write user-offline failed: %v", err)
	}
	if got := members(t, mr); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("expected [bob] online, got %v", got)
	}
}

func TestRedisSink_OnlineThenOfflineLeavesUserOffline(t *testing.T) {
	sink, mr := newTestRedisSink(t)
	ctx := context.Background()

	if err := sink.Write(ctx, presenceEvent(KindUserOnline, "alice")); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(ctx, presenceEvent(KindUserOffline, "alice")); err != nil {
		t.Fatal(err)
	}

	if got := members(t, mr); len(got) != 0 {
		t.Errorf("alice should not be mirrored as online, got %v", got)
	}
}

func TestRedisSink_PublishesEveryRecord(t *testing.T) {
	sink, mr := newTestRedisSink(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()

	sub := subscriber.Subscribe(ctx, sink.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	msgs := sub.Channel()

	online := presenceEvent(KindUserOnline, "alice")
	call := NewEvent(KindCallStarted)
	call.UserID = "alice"
	call.TargetID = "bob"
	call.CallID = "call-42"

	for _, e := range []Event{online, call} {
		if err := sink.Write(ctx, e); err != nil {
			t.Fatalf("Write %s failed: %v", e.Kind, err)
		}
	}

	for _, want := range []Event{online, call} {
		select {
		case msg := <-msgs:
			var got Event
			if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if got.ID != want.ID || got.Kind != want.Kind {
				t.Errorf("expected %s %s, got %s %s", want.Kind, want.ID, got.Kind, got.ID)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", want.Kind)
		}
	}

	if got := members(t, mr); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("non-presence records must not touch the online set, got %v", got)
	}
}
