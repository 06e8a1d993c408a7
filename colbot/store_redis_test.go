package colbot

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendWithClient(client, "")
	t.Cleanup(func() { _ = backend.Close() })
	return backend, mr
}

func TestRedisBackend(t *testing.T) {
	t.Parallel()
	backend, mr := newTestRedisBackend(t)
	ctx := context.Background()

	data, err := backend.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, backend.Put(ctx, []byte(`[{"postIdOrTag":"a"}]`)))

	stored, err := mr.Get(DefaultRedisKey)
	require.NoError(t, err)
	assert.Equal(t, `[{"postIdOrTag":"a"}]`, stored)

	data, err = backend.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[{"postIdOrTag":"a"}]`, string(data))
}

func TestRedisBackend_OutageFallsBack(t *testing.T) {
	t.Parallel()
	backend, mr := newTestRedisBackend(t)
	fallback := NewMemoryBackend(nil)
	g := NewGateway(backend, fallback, nil, NewMetrics())
	ctx := context.Background()

	require.NoError(t, g.Save(ctx, newTestRegistry(t, NewLevel("a", "A", "", ""))))
	assert.Equal(t, 0, fallback.Puts())

	mr.Close()

	err := g.Save(ctx, newTestRegistry(t, NewLevel("b", "B", "", "")))
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, fallback.Puts())

	// reads come from the fallback while redis is down
	reg := g.Load(ctx)
	_, ok := reg.FindByID("b")
	assert.True(t, ok)
}

func TestNewRedisBackend_BadURL(t *testing.T) {
	t.Parallel()
	_, err := NewRedisBackend(context.Background(), "not a url", "")
	require.Error(t, err)
}
