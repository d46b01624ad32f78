package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisConfigKey     = "blacklist:config:settings"
	redisConfigChannel = "blacklist:config:updates"
	redisOpTimeout     = 5 * time.Second
)

// configEnvelope wraps a broadcast config with the time it was produced.
// Subscribers drop anything not newer than what they already applied, which
// covers replays after a reconnect and an instance hearing its own publish.
type configEnvelope struct {
	UpdatedAt time.Time `json:"updated_at"`
	Config    Config    `json:"config"`
}

type redisSyncState struct {
	mu          sync.Mutex
	client      *redis.Client
	ctx         context.Context
	cancel      context.CancelFunc
	lastApplied time.Time
}

var globalRedisSync redisSyncState

// EnableRedisSynchronization keeps the settings of every running instance in
// step: the newest config is stored under a well-known key and changes are
// fanned out over pub/sub. Remote updates change the in-memory snapshot
// only; the local settings file stays whatever the operator wrote, and a
// restarted instance picks the shared state back up from redis.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	syncCtx, cancel := context.WithCancel(ctx)

	globalRedisSync.mu.Lock()
	if globalRedisSync.client != nil {
		globalRedisSync.mu.Unlock()
		cancel()
		return
	}

	globalRedisSync.client = client
	globalRedisSync.ctx = syncCtx
	globalRedisSync.cancel = cancel
	globalRedisSync.mu.Unlock()

	loaded, err := loadConfigFromRedis(syncCtx, client)
	if err != nil {
		log.Error("Config sync: failed to load configuration from redis", "error", err)
	}

	if !loaded {
		if err := broadcastConfigUpdate(GetConfig()); err != nil {
			log.Error("Config sync: failed to publish configuration to redis", "error", err)
		}
	}

	go subscribeToConfigUpdates(syncCtx, client)
}

func loadConfigFromRedis(ctx context.Context, client *redis.Client) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisConfigKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	envelope, err := decodeConfigEnvelope([]byte(payload))
	if err != nil {
		return true, err
	}

	if !markApplied(envelope.UpdatedAt) {
		return true, nil
	}

	if err := applyConfigUpdate(envelope.Config, configUpdateOptions{source: "redis"}); err != nil {
		return true, err
	}

	return true, nil
}

func subscribeToConfigUpdates(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, redisConfigChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		envelope, err := decodeConfigEnvelope([]byte(msg.Payload))
		if err != nil {
			log.Error("Config sync: invalid payload", "error", err)
			continue
		}

		if !markApplied(envelope.UpdatedAt) {
			continue
		}

		if err := applyConfigUpdate(envelope.Config, configUpdateOptions{source: "redis"}); err != nil {
			log.Error("Config sync: failed to apply remote update", "error", err)
		}
	}
}

// broadcastConfigUpdate stores the config under the shared key and publishes
// it. A no-op until EnableRedisSynchronization connected a client.
func broadcastConfigUpdate(cfg Config) error {
	globalRedisSync.mu.Lock()
	client := globalRedisSync.client
	baseCtx := globalRedisSync.ctx
	globalRedisSync.mu.Unlock()

	if client == nil {
		return nil
	}

	envelope := configEnvelope{UpdatedAt: time.Now().UTC(), Config: cfg}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	markApplied(envelope.UpdatedAt)

	ctx := baseCtx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := client.Set(opCtx, redisConfigKey, payload, 0).Err(); err != nil {
		return err
	}

	return client.Publish(opCtx, redisConfigChannel, payload).Err()
}

func decodeConfigEnvelope(payload []byte) (configEnvelope, error) {
	var envelope configEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return configEnvelope{}, err
	}
	if envelope.UpdatedAt.IsZero() {
		return configEnvelope{}, errors.New("config update carries no timestamp")
	}
	return envelope, nil
}

// markApplied advances the last-applied marker and reports whether updatedAt
// is newer than everything seen so far.
func markApplied(updatedAt time.Time) bool {
	globalRedisSync.mu.Lock()
	defer globalRedisSync.mu.Unlock()

	if !updatedAt.After(globalRedisSync.lastApplied) {
		return false
	}
	globalRedisSync.lastApplied = updatedAt
	return true
}
