package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	v, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set(ctx, "WEB3_CONNECT_CACHED_PROVIDER", `"injected"`))
	v, err = s.Get(ctx, "WEB3_CONNECT_CACHED_PROVIDER")
	require.NoError(t, err)
	assert.Equal(t, `"injected"`, v)

	require.NoError(t, s.Delete(ctx, "WEB3_CONNECT_CACHED_PROVIDER"))
	require.NoError(t, s.Delete(ctx, "WEB3_CONNECT_CACHED_PROVIDER"))
	v, err = s.Get(ctx, "WEB3_CONNECT_CACHED_PROVIDER")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.yml")
	exerciseStore(t, NewFile(path))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.yml")
	require.NoError(t, NewFile(path).Set(ctx, "k", "v"))

	v, err := NewFile(path).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestFileStoreCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map"), 0o600))
	_, err := NewFile(path).Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MOFF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MOFF_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	exerciseStore(t, NewRedis(client, "moff-wallet-test:"))
}
