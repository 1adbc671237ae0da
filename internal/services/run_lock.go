package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when another run for the same user holds the lock.
var ErrRunInProgress = errors.New("a run for this user is already in progress")

// RunLocker guarantees at most one run per user at a time.
type RunLocker interface {
	// Acquire returns a release func when the lock was taken, or
	// ErrRunInProgress when somebody else holds it.
	Acquire(ctx context.Context, userKey string) (release func(), err error)
}

func runLockKey(userKey string) string {
	return "todo-aggregator:run-lock:" + userKey
}

// RedisRunLocker shares run locks between server instances.
type RedisRunLocker struct {
	redis      *RedisService
	instanceID string
	ttl        time.Duration
}

// NewRedisRunLocker locks runs through Redis. ttl bounds how long a crashed
// instance can block a user.
func NewRedisRunLocker(redis *RedisService, ttl time.Duration) *RedisRunLocker {
	return &RedisRunLocker{redis: redis, instanceID: uuid.NewString(), ttl: ttl}
}

func (l *RedisRunLocker) Acquire(ctx context.Context, userKey string) (func(), error) {
	key := runLockKey(userKey)
	token := l.instanceID + ":" + uuid.NewString()

	acquired, err := l.redis.AcquireLock(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}

	return func() {
		// the run context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.redis.ReleaseLock(releaseCtx, key, token); err != nil {
			log.Printf("⚠️ [RUN-LOCK] Failed to release lock for %s: %v", userKey, err)
		}
	}, nil
}

// LocalRunLocker locks runs within this process. Used when Redis is not configured.
type LocalRunLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalRunLocker() *LocalRunLocker {
	return &LocalRunLocker{held: make(map[string]bool)}
}

func (l *LocalRunLocker) Acquire(ctx context.Context, userKey string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[userKey] {
		return nil, ErrRunInProgress
	}
	l.held[userKey] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, userKey)
			l.mu.Unlock()
		})
	}, nil
}
