package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keys live ~48h so a day that straddles timezone boundaries is
// still present while any campaign's local date can reference it.
const counterTTL = 48 * time.Hour

// acquireScript checks the current count against the limit before
// incrementing, so a rejected attempt never consumes quota.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// DailyCounter is a Redis-backed DailyLimiter. All engine instances share
// the same counters, so the quota holds across processes.
type DailyCounter struct {
	client *redis.Client
}

func NewDailyCounter(client *redis.Client) *DailyCounter {
	return &DailyCounter{client: client}
}

func (c *DailyCounter) TryAcquire(ctx context.Context, campaignID, day string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	key := dailyKey(campaignID, day)
	res, err := acquireScript.Run(ctx, c.client, []string{key}, limit, int(counterTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire daily send permit: %w", err)
	}
	return res == 1, nil
}

func dailyKey(campaignID, day string) string {
	return fmt.Sprintf("sequencer:daily:%s:%s", campaignID, day)
}
