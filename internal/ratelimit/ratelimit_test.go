package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocal_BurstIsImmediate(t *testing.T) {
	l := NewLocal(1200)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), 20))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLocal_ExhaustedRespectsContext(t *testing.T) {
	l := NewLocal(60) // 1 unit per second
	require.NoError(t, l.Wait(context.Background(), 60))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, 30)
	assert.Error(t, err)
}

func TestLocal_WeightAboveBurstIsClamped(t *testing.T) {
	l := NewLocal(10)
	assert.NoError(t, l.Wait(context.Background(), 50))
}

func TestRedis_FirstSpenderSetsTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	at := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	l := NewRedis(rdb, "rl", 1200, quietLogger())
	l.now = func() time.Time { return at }

	key := "rl:" + itoa(at.Truncate(time.Minute).Unix())
	mock.ExpectIncrBy(key, 20).SetVal(20)
	mock.ExpectExpire(key, 70*time.Second).SetVal(true)

	require.NoError(t, l.Wait(context.Background(), 20))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_UnderBudgetSkipsTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	at := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	l := NewRedis(rdb, "rl", 1200, quietLogger())
	l.now = func() time.Time { return at }

	key := "rl:" + itoa(at.Truncate(time.Minute).Unix())
	mock.ExpectIncrBy(key, 2).SetVal(600)

	require.NoError(t, l.Wait(context.Background(), 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_OverBudgetWaitsForNextWindow(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	first := time.Date(2026, 3, 1, 10, 0, 59, 995_000_000, time.UTC)
	next := first.Truncate(time.Minute).Add(time.Minute)
	calls := 0
	l := NewRedis(rdb, "rl", 100, quietLogger())
	l.now = func() time.Time {
		calls++
		if calls == 1 {
			return first
		}
		return next
	}

	mock.ExpectIncrBy("rl:"+itoa(first.Truncate(time.Minute).Unix()), 2).SetVal(101)
	mock.ExpectIncrBy("rl:"+itoa(next.Unix()), 2).SetVal(2)
	mock.ExpectExpire("rl:"+itoa(next.Unix()), 70*time.Second).SetVal(true)

	require.NoError(t, l.Wait(context.Background(), 2))
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_OverBudgetHonoursCancel(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	at := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	l := NewRedis(rdb, "rl", 100, quietLogger())
	l.now = func() time.Time { return at }

	mock.ExpectIncrBy("rl:"+itoa(at.Truncate(time.Minute).Unix()), 2).SetVal(150)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedis_FailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	at := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	l := NewRedis(rdb, "rl", 100, quietLogger())
	l.now = func() time.Time { return at }

	mock.ExpectIncrBy("rl:"+itoa(at.Truncate(time.Minute).Unix()), 2).SetErr(errors.New("connection refused"))

	assert.NoError(t, l.Wait(context.Background(), 2))
}

type countingLimiter struct {
	calls int
	err   error
}

func (c *countingLimiter) Wait(context.Context, int) error {
	c.calls++
	return c.err
}

func TestChain_StopsAtFirstError(t *testing.T) {
	a := &countingLimiter{}
	b := &countingLimiter{err: context.Canceled}
	c := &countingLimiter{}

	err := Chain{a, b, c}.Wait(context.Background(), 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, c.calls)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
