package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

const cacheKeyPrefix = "calendar:busy"

// CachedProvider is a read-through Redis cache in front of another provider.
// Redis failures fall through to the upstream provider; upstream failures are never cached.
type CachedProvider struct {
	upstream scheduling.CalendarProvider
	redis    *redis.Client
	ttl      time.Duration
	logger   *logging.Logger
}

// NewCachedProvider wraps upstream. A nil client disables caching.
func NewCachedProvider(upstream scheduling.CalendarProvider, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedProvider {
	if upstream == nil {
		panic("calendar: upstream provider required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProvider{upstream: upstream, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedProvider) GetBusySlots(ctx context.Context, staffEmail string, from, to time.Time) ([]scheduling.BusySlot, error) {
	if c.redis == nil {
		return c.upstream.GetBusySlots(ctx, staffEmail, from, to)
	}
	key := cacheKey(staffEmail, from, to)

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var slots []scheduling.BusySlot
		if jsonErr := json.Unmarshal(raw, &slots); jsonErr == nil {
			return slots, nil
		}
		c.logger.Warn("calendar cache entry unreadable", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("calendar cache read failed", "error", err)
	}

	slots, err := c.upstream.GetBusySlots(ctx, staffEmail, from, to)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(slots); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("calendar cache write failed", "error", err)
		}
	}
	return slots, nil
}

func cacheKey(email string, from, to time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%d", cacheKeyPrefix, strings.ToLower(strings.TrimSpace(email)), from.Unix(), to.Unix())
}

var _ scheduling.CalendarProvider = (*CachedProvider)(nil)
