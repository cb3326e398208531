package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink mirrors presence into Redis so the rest of the web application can ask
// "is this user online?" without talking to the socket server.
//
// The set at key holds online user ids. Every record is also published on "<key>:events".
type RedisSink struct {
	client redis.UniversalClient
	key    string
}

// DialRedis connects to addr, verifies the connection and clears any set left by a previous process.
func DialRedis(ctx context.Context, addr, password string, db int, key string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	sink := NewRedisSink(client, key)
	if err := sink.Reset(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return sink, nil
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client redis.UniversalClient, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel is the pub/sub channel records are published on.
func (s *RedisSink) Channel() string {
	return s.key + ":events"
}

// Reset deletes the online set. A restarted server starts with nobody online.
func (s *RedisSink) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("reset presence set: %w", err)
	}
	return nil
}

func (s *RedisSink) Write(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if !e.IsPresence() {
		if err := s.client.Publish(ctx, s.Channel(), body).Err(); err != nil {
			return fmt.Errorf("publish %s to redis: %w", e.Kind, err)
		}
		return nil
	}

	// The set update and its announcement land together.
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if e.Kind == KindUserOnline {
			pipe.SAdd(ctx, s.key, e.UserID)
		} else {
			pipe.SRem(ctx, s.key, e.UserID)
		}
		pipe.Publish(ctx, s.Channel(), body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror %s to redis: %w", e.Kind, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
