package redisslot_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/domain"
	"missionline/internal/redisslot"
	"missionline/internal/wizard"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "missionline:wizard:abc", redisslot.Key("abc"))
}

func TestConnectFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := redisslot.Connect(ctx, redisslot.Options{Addr: "127.0.0.1:1"}, 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestStoreErrorsWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	store := redisslot.New(client, time.Minute)

	err := store.Save(context.Background(), "s-1", wizard.Snapshot{CurrentStep: wizard.StepPlatform})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis set wizard slot")
}

// TestStoreAgainstServer runs when MISSIONLINE_TEST_REDIS names a live server.
func TestStoreAgainstServer(t *testing.T) {
	addr := os.Getenv("MISSIONLINE_TEST_REDIS")
	if addr == "" {
		t.Skip("MISSIONLINE_TEST_REDIS not set")
	}
	ctx := context.Background()
	client, err := redisslot.Connect(ctx, redisslot.Options{Addr: addr}, 3, nil)
	require.NoError(t, err)
	defer client.Close()

	store := redisslot.New(client, time.Minute)
	key := "test-" + time.Now().Format("150405.000000")
	defer store.Delete(ctx, key)

	_, err = store.Load(ctx, key)
	require.ErrorIs(t, err, wizard.ErrNoState)

	snap := wizard.Snapshot{
		Fields:      wizard.Fields{Platform: domain.PlatformTelegram, Audience: domain.AudienceAll},
		CurrentStep: wizard.StepModel,
	}
	require.NoError(t, store.Save(ctx, key, snap))
	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	ttl, err := client.TTL(ctx, redisslot.Key(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
