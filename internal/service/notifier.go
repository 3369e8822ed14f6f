package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultSecurityChannel = "security-events"

type NopNotifier struct{}

func (NopNotifier) NotifyPasswordChanged(context.Context, uint) error { return nil }

func (NopNotifier) NotifyTwoFactorToggled(context.Context, uint, bool) error { return nil }

type SecurityEvent struct {
	Type       string    `json:"type"`
	UserID     uint      `json:"user_id"`
	Enabled    *bool     `json:"enabled,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RedisNotifier publishes security events for the real-time delivery service.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	clock   Clock
}

func NewRedisNotifier(client redis.UniversalClient, channel string, clock Clock) *RedisNotifier {
	if channel == "" {
		channel = DefaultSecurityChannel
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &RedisNotifier{client: client, channel: channel, clock: clock}
}

func (n *RedisNotifier) NotifyPasswordChanged(ctx context.Context, userID uint) error {
	return n.publish(ctx, SecurityEvent{Type: "password_changed", UserID: userID})
}

func (n *RedisNotifier) NotifyTwoFactorToggled(ctx context.Context, userID uint, enabled bool) error {
	return n.publish(ctx, SecurityEvent{Type: "two_factor_toggled", UserID: userID, Enabled: &enabled})
}

func (n *RedisNotifier) publish(ctx context.Context, event SecurityEvent) error {
	event.OccurredAt = n.clock.Now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}
