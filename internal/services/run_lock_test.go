package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRunLocker(t *testing.T) {
	locker := NewLocalRunLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "alice")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "alice")
	assert.ErrorIs(t, err, ErrRunInProgress)

	other, err := locker.Acquire(ctx, "bob")
	require.NoError(t, err, "locks are per user")
	other()

	release()
	release() // releasing twice is harmless

	again, err := locker.Acquire(ctx, "alice")
	require.NoError(t, err)
	again()
}

func TestRedisRunLocker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	redis, err := NewRedisService(url)
	require.NoError(t, err)
	defer redis.Close()

	ctx := context.Background()
	first := NewRedisRunLocker(redis, time.Minute)
	second := NewRedisRunLocker(redis, time.Minute)

	release, err := first.Acquire(ctx, "lock-test")
	require.NoError(t, err)

	_, err = second.Acquire(ctx, "lock-test")
	assert.ErrorIs(t, err, ErrRunInProgress)

	release()
	release2, err := second.Acquire(ctx, "lock-test")
	require.NoError(t, err)
	release2()
}
