package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/config"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	m, err := NewManager(config.RedisConfig{
		Enabled:    true,
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestJSONRoundtrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, m.SetJSON(ctx, "wf:1", payload{Name: "harbor", Count: 3}, 0))

	var got payload
	require.NoError(t, m.GetJSON(ctx, "wf:1", &got))
	assert.Equal(t, "harbor", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestSetUsesDefaultTTL(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	assert.Greater(t, mr.TTL("k"), time.Duration(0))

	// TTL 过期后读取 miss
	mr.FastForward(2 * time.Minute)
	_, err := m.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestIncrementSetsTTLOnce(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	val, err := m.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
	firstTTL := mr.TTL("counter")
	assert.Greater(t, firstTTL, time.Duration(0))

	val, err = m.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}

func TestDisabledManagerDegrades(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(config.RedisConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	// 写入 no-op，读取恒 miss，没有错误
	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	_, err = m.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Ping(ctx))
	require.NoError(t, m.Close())

	n, err := m.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUnreachableRedisFailsConstruction(t *testing.T) {
	_, err := NewManager(config.RedisConfig{
		Enabled: true,
		Addr:    "127.0.0.1:1",
	}, zap.NewNop())
	assert.Error(t, err)
}
