package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const lockReleaseTimeout = 5 * time.Second

var (
	lockCounter atomic.Uint64

	lockReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// ErrLockHeld is returned when another process already holds the lock.
var ErrLockHeld = errors.New("support: lock already held")

// SourceLock is a Redis-backed mutual exclusion token. It guards one
// collection run per source across all running instances. When Redis is
// unavailable the lock degrades to a no-op and the caller relies on its
// local per-source mutex alone.
type SourceLock struct {
	client *redis.Client
	key    string
	value  string
}

// AcquireSourceLock attempts a non-blocking SetNX acquisition. The TTL is a
// backstop in case the owning process dies without releasing.
func AcquireSourceLock(ctx context.Context, key string, ttl time.Duration) (*SourceLock, error) {
	client, err := GetRedisClient()
	if err != nil {
		log.Warn("source lock: redis unavailable, running with local lock only", "key", key, "error", err)
		return &SourceLock{}, nil
	}

	value := generateLockID()
	ok, err := client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("support: source lock setnx: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &SourceLock{client: client, key: key, value: value}, nil
}

// Release deletes the lock only if this holder still owns it.
func (sl *SourceLock) Release() {
	if sl == nil || sl.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer cancel()

	if _, err := lockReleaseScript.Run(ctx, sl.client, []string{sl.key}, sl.value).Result(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("source lock: release failed", "key", sl.key, "error", err)
	}
}

func generateLockID() string {
	host, _ := os.Hostname()
	counter := lockCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), counter)
}
