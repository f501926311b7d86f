package cyclelock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey is the Redis key guarding collection cycles.
const DefaultKey = "weather-history-collector:cycle-lock"

// Deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Locker is a Redis lease shared by every collector instance.
type Locker struct {
	client client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// Connect opens and pings a Redis client.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return c, nil
}

func New(c client, key string, ttl time.Duration, logger *zap.Logger) *Locker {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		client: c,
		key:    key,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cyclelock")),
	}
}

// Acquire takes the lock for ttl. ok is false when another instance holds it.
func (l *Locker) Acquire(ctx context.Context) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring cycle lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("releasing cycle lock failed; it expires on its own", zap.Error(err))
		}
	}
	return release, true, nil
}
