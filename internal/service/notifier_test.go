package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cardlink/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierPublishesEvents(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	subscription := client.Subscribe(ctx, "security-test")
	t.Cleanup(func() { _ = subscription.Close() })
	_, err := subscription.Receive(ctx)
	require.NoError(t, err)

	clock := testutil.NewClock(testStart)
	notifier := NewRedisNotifier(client, "security-test", clock)

	require.NoError(t, notifier.NotifyTwoFactorToggled(ctx, 12, false))
	require.NoError(t, notifier.NotifyPasswordChanged(ctx, 12))

	messages := subscription.Channel()
	var events []SecurityEvent
	for len(events) < 2 {
		select {
		case message := <-messages:
			var event SecurityEvent
			require.NoError(t, json.Unmarshal([]byte(message.Payload), &event))
			events = append(events, event)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for security events")
		}
	}

	assert.Equal(t, "two_factor_toggled", events[0].Type)
	assert.Equal(t, uint(12), events[0].UserID)
	require.NotNil(t, events[0].Enabled)
	assert.False(t, *events[0].Enabled)
	assert.True(t, events[0].OccurredAt.Equal(testStart))

	assert.Equal(t, "password_changed", events[1].Type)
	assert.Nil(t, events[1].Enabled)
}

func TestRedisNotifierReportsFailures(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	server.Close()

	notifier := NewRedisNotifier(client, "", nil)
	assert.Error(t, notifier.NotifyPasswordChanged(context.Background(), 1))
}
