package feedback

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends records to a Redis stream. Each entry carries the record
// id and the JSON encoded record.
type RedisSink struct {
	client streamAdder
	stream string
	closer func() error
}

// NewRedisSink connects to addr and checks the connection.
func NewRedisSink(ctx context.Context, addr, password string, db int, stream string) (*RedisSink, error) {
	if stream == "" {
		return nil, fmt.Errorf("redis stream name is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSink{client: client, stream: stream, closer: client.Close}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Append(ctx context.Context, r Record) error {
	payload, err := r.Marshal()
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":       r.ID,
			"provider": r.ProviderRef,
			"record":   string(payload),
		},
	}).Err()
}

func (s *RedisSink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
