package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisIdempotencyStore(db, time.Hour)
	ctx := context.Background()

	mock.ExpectSetNX("idemp:orders:alice@example.com:k1", "1", time.Hour).SetVal(true)
	mock.ExpectSetNX("idemp:orders:alice@example.com:k1", "1", time.Hour).SetVal(false)

	ok, err := s.TryLock(ctx, "orders:alice@example.com", "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "orders:alice@example.com", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRememberAndRecall(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisIdempotencyStore(db, time.Minute)
	ctx := context.Background()

	mock.ExpectSet("idemp:map:orders:k2", "ORD-1", time.Minute).SetVal("OK")
	mock.ExpectGet("idemp:map:orders:k2").SetVal("ORD-1")

	require.NoError(t, s.Remember(ctx, "orders", "k2", "ORD-1"))

	val, ok, err := s.Recall(ctx, "orders", "k2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ORD-1", val)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecall_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisIdempotencyStore(db, time.Minute)

	mock.ExpectGet("idemp:map:orders:unknown").RedisNil()

	val, ok, err := s.Recall(context.Background(), "orders", "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecall_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisIdempotencyStore(db, time.Minute)

	mock.ExpectGet("idemp:map:orders:k").SetErr(errors.New("connection refused"))

	_, ok, err := s.Recall(context.Background(), "orders", "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisIdempotencyStore(db, time.Minute)

	mock.ExpectDel("idemp:gateway:k3").SetVal(1)

	assert.NoError(t, s.Release(context.Background(), "gateway", "k3"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisIdempotencyStore_DefaultTTL(t *testing.T) {
	db, _ := redismock.NewClientMock()
	s := NewRedisIdempotencyStore(db, 0)
	assert.Equal(t, 24*time.Hour, s.ttl)
}
