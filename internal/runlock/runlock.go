// Package runlock keeps ingestion runs from overlapping.
package runlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("run lock not held")

type Locker interface {
	// TryLock returns false without error when another holder has the lock.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Local is a process-wide lock for deployments without Redis.
type Local struct {
	mu   sync.Mutex
	held bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *Local) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrNotHeld
	}
	l.held = false
	return nil
}

// Redis holds the lock as a key with a random token and a TTL, so a crashed
// holder releases it when the TTL runs out.
type Redis struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration

	mu    sync.Mutex
	token string
}

func NewRedis(opt *redis.Options, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Redis{Client: redis.NewClient(opt), Key: key, TTL: ttl}
}

func (r *Redis) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, r.Key, token, r.TTL).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
	return true, nil
}

// unlockScript deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *Redis) Unlock(ctx context.Context) error {
	r.mu.Lock()
	token := r.token
	r.token = ""
	r.mu.Unlock()
	if token == "" {
		return ErrNotHeld
	}
	n, err := unlockScript.Run(ctx, r.Client, []string{r.Key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)
