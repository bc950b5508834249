package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AccessCounter counts artifact accesses. IncrementAccessIfBelow must check
// and increment in one atomic step: of 2N concurrent calls with limit N,
// exactly N succeed.
type AccessCounter interface {
	IncrementAccessIfBelow(ctx context.Context, artifactID string, limit int64) (bool, error)
}

// FirstAccessRecorder stores the first time an artifact was accessed.
type FirstAccessRecorder interface {
	FirstAccess(ctx context.Context, artifactID string) (*time.Time, error)
	MarkFirstAccess(ctx context.Context, artifactID string, now time.Time) (time.Time, error)
}

// RetentionStore schedules and performs artifact data deletion.
type RetentionStore interface {
	ScheduleDeletion(ctx context.Context, artifactID string, at time.Time) error
	DueDeletions(ctx context.Context, now time.Time) ([]string, error)
	DeleteArtifactData(ctx context.Context, artifactID string) error
}

var incrementBelowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current < tonumber(ARGV[1]) then
  redis.call("INCR", KEYS[1])
  return 1
end
return 0
`)

// RedisCounter keeps access counters in Redis so several connector
// instances can share one limit.
type RedisCounter struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{Client: client, Prefix: "connector:access:"}
}

func (c *RedisCounter) IncrementAccessIfBelow(ctx context.Context, artifactID string, limit int64) (bool, error) {
	res, err := incrementBelowScript.Run(ctx, c.Client, []string{c.Prefix + artifactID}, limit).Int64()
	if err != nil {
		return false, fmt.Errorf("redis increment %s: %w", artifactID, err)
	}
	return res == 1, nil
}

// Count returns the current counter value of an artifact.
func (c *RedisCounter) Count(ctx context.Context, artifactID string) (int64, error) {
	n, err := c.Client.Get(ctx, c.Prefix+artifactID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis count %s: %w", artifactID, err)
	}
	return n, nil
}
