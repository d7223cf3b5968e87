package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
)

type countingProvider struct {
	slots []scheduling.BusySlot
	err   error
	calls int
}

func (c *countingProvider) GetBusySlots(context.Context, string, time.Time, time.Time) ([]scheduling.BusySlot, error) {
	c.calls++
	return c.slots, c.err
}

func TestCachedProviderReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	upstream := &countingProvider{slots: []scheduling.BusySlot{{
		Start: from.Add(9 * time.Hour), End: from.Add(10 * time.Hour), Source: scheduling.SourceExternalCalendar,
	}}}
	cached := NewCachedProvider(upstream, client, time.Minute, nil)

	first, err := cached.GetBusySlots(context.Background(), "Attorney@Example.com", from, to)
	require.NoError(t, err)
	second, err := cached.GetBusySlots(context.Background(), "attorney@example.com", from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, upstream.calls)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(cacheKey("attorney@example.com", from, to)))

	mr.FastForward(2 * time.Minute)
	_, err = cached.GetBusySlots(context.Background(), "attorney@example.com", from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedProviderDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	upstream := &countingProvider{err: errors.New("quota exceeded")}
	cached := NewCachedProvider(upstream, client, time.Minute, nil)
	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	_, err := cached.GetBusySlots(context.Background(), "a@example.com", from, from.Add(time.Hour))
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCachedProviderFailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	upstream := &countingProvider{}
	cached := NewCachedProvider(upstream, client, time.Minute, nil)
	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	_, err := cached.GetBusySlots(context.Background(), "a@example.com", from, from.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls)

	uncached := NewCachedProvider(upstream, nil, 0, nil)
	_, err = uncached.GetBusySlots(context.Background(), "a@example.com", from, from.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls)
}
