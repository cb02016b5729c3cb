package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	keyPrefix      = "telemetry:lock:resource:"
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 200 * time.Millisecond
)

// Redis holds keys across replicas with SET NX PX tokens. A key whose holder
// dies expires after ttl.
type Redis struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *zap.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		log:    log.Named("keylock.redis"),
	}, nil
}

type heldKey struct {
	key   string
	token string
}

func (l *Redis) Lock(ctx context.Context, keys []string) (Unlock, error) {
	held := make([]heldKey, 0, len(keys))
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.script.Run(ctx, l.client, []string{held[i].key}, held[i].token).Err(); err != nil {
				l.log.Warn("lock release failed", zap.String("key", held[i].key), zap.Error(err))
			}
		}
		held = held[:0]
	}

	for _, key := range normalize(keys) {
		token, err := l.acquire(ctx, keyPrefix+key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, heldKey{key: keyPrefix + key, token: token})
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Redis) acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	backoff := initialBackoff
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return "", ErrLockTimeout
			}
			return "", err
		}
		if ok {
			return token, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ErrLockTimeout
		case <-timer.C:
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
