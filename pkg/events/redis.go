package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brightkids/participation-api/pkg/config"
)

// NewClient returns a configured Redis client.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RedisBus publishes events as JSON to per-type Redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus constructs the bus.
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "participation"
	}
	return &RedisBus{client: client, prefix: prefix}
}

// Dispatch implements Bus.
func (b *RedisBus) Dispatch(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	channel := fmt.Sprintf("%s.%s", b.prefix, event.Type)
	if err := b.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// AnonymizeHandler reacts to a child-data erasure signal. Implementations
// must be idempotent: the signal may be delivered more than once.
type AnonymizeHandler func(ctx context.Context, childID string) error

// Subscriber consumes the inbound child_data_anonymized channel and feeds
// each signal to the handler.
type Subscriber struct {
	client  *redis.Client
	channel string
	handler AnonymizeHandler
	logger  *zap.Logger
}

// NewSubscriber constructs the subscriber.
func NewSubscriber(client *redis.Client, channel string, handler AnonymizeHandler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, channel: channel, handler: handler, logger: logger}
}

// Run blocks consuming erasure signals until the context is cancelled.
// Handler failures are logged, not fatal; the upstream context redelivers.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, raw string) {
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		s.logger.Sugar().Warnw("discarding malformed erasure signal", "channel", s.channel, "error", err)
		return
	}
	childID := event.AggregateID
	if v, ok := event.Payload["child_id"].(string); ok && v != "" {
		childID = v
	}
	if childID == "" {
		s.logger.Sugar().Warnw("erasure signal without child id", "channel", s.channel)
		return
	}
	if err := s.handler(ctx, childID); err != nil {
		s.logger.Sugar().Errorw("erasure handler failed", "child_id", childID, "error", err)
		return
	}
	s.logger.Sugar().Infow("child data anonymized", "child_id", childID)
}
