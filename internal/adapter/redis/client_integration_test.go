package redis

import (
	"context"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Connects(t *testing.T) {
	client := setupTestClient(t)

	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-redis-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis URL")
}

func TestNewClient_BreakerHookSeesCommands(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	client := setupTestClient(t, hook)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "key", "value", 0).Err())
	_, err := client.Get(ctx, "missing").Result()
	require.Error(t, err)

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	assert.Zero(t, hook.GetCounts().TotalFailures)
}
