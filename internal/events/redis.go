package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "articles:events:"

// RedisBus publishes events on Redis channels so every instance serving a
// form's event stream sees them.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// ConnectRedis creates a Redis client from url and verifies connectivity.
func ConnectRedis(url string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisBus(rdb, logger), nil
}

// NewRedisBus wraps an existing client.
func NewRedisBus(rdb *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger}
}

// Publish sends ev to the topic's Redis channel.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, redisChannelPrefix+ev.Topic, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe listens on the topic's Redis channel until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	ps := b.rdb.Subscribe(ctx, redisChannelPrefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %q: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscriber(cancel)
	go sub.forward(subCtx)
	go func() {
		defer cancel()
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("events: dropping malformed message",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if !sub.push(ev) {
					b.logger.Debug("events: subscriber backlog full",
						zap.String("topic", topic), zap.String("type", ev.Type))
				}
			}
		}
	}()
	return sub.out, nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
