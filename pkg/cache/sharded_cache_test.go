package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMarkCacheSetGet(t *testing.T) {
	c := NewMarkCache()
	c.Set("BTCUSDT", decimal.NewFromInt(50000))
	c.Set("ETHUSDT", decimal.NewFromInt(3000))

	p, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	require.True(t, p.Equal(decimal.NewFromInt(50000)))

	_, ok = c.Get("SOLUSDT")
	require.False(t, ok)
	require.Equal(t, 2, c.Len())

	c.Delete("ETHUSDT")
	require.Equal(t, 1, c.Len())
	require.Len(t, c.All(), 1)
}

func TestMarkCacheCleanup(t *testing.T) {
	c := NewMarkCache()
	c.Set("BTCUSDT", decimal.NewFromInt(1))
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, c.Cleanup(time.Millisecond))
	require.Equal(t, 0, c.Len())
}

func TestShardIndexStable(t *testing.T) {
	require.Equal(t, ShardIndex("BTCUSDT", 8), ShardIndex("BTCUSDT", 8))
	require.Equal(t, 0, ShardIndex("anything", 1))
	idx := ShardIndex("ETHUSDT", 4)
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, 4)
}
