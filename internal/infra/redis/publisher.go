package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/recoveryd/internal/recovery"
)

const eventChannel = "recovery:events"

// Retention of the last event per error, for consoles that reconnect.
const eventTTL = 24 * time.Hour

func eventKey(errorID string) string {
	return fmt.Sprintf("recovery:event:%s", errorID)
}

// Publisher broadcasts recovery lifecycle events to operator consoles over
// Redis pub/sub and mirrors the latest event per error under a keyed entry.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a publisher on an established client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{rdb: client.rdb}
}

// Publish implements recovery.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, ev recovery.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, eventChannel, data).Err(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	if err := p.rdb.Set(ctx, eventKey(ev.ErrorID), data, eventTTL).Err(); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Subscribe returns a subscription to the event channel. The caller owns
// the returned PubSub and must close it.
func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.rdb.Subscribe(ctx, eventChannel)
}

// LastEvent returns the stored latest event payload for an error, or nil
// when none is retained.
func (p *Publisher) LastEvent(ctx context.Context, errorID string) ([]byte, error) {
	data, err := p.rdb.Get(ctx, eventKey(errorID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return data, nil
}
