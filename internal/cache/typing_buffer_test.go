package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoochat/internal/utils"
)

func newTestBuffer(t *testing.T) (*RedisTypingBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return NewRedisTypingBuffer(rdb, time.Minute, l), mr
}

func TestAppendJoinsFragmentsAndClears(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, "u1", "a"))
	require.NoError(t, buf.Append(ctx, "u1", "  b  "))

	assert.Equal(t, "a b", buf.Peek(ctx, "u1"))
	assert.True(t, buf.Exists(ctx, "u1"))

	assert.Equal(t, "a b", buf.GetAndClear(ctx, "u1"))
	assert.Equal(t, "", buf.GetAndClear(ctx, "u1"))
	assert.False(t, buf.Exists(ctx, "u1"))
}

func TestAppendRejectsBlankFragment(t *testing.T) {
	buf, _ := newTestBuffer(t)

	err := buf.Append(context.Background(), "u1", "   ")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	assert.False(t, buf.Exists(context.Background(), "u1"))
}

func TestAppendRefreshesTTL(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, "u1", "hello"))
	mr.FastForward(50 * time.Second)
	require.NoError(t, buf.Append(ctx, "u1", "again"))
	mr.FastForward(50 * time.Second)

	assert.Equal(t, "hello again", buf.Peek(ctx, "u1"))

	mr.FastForward(11 * time.Second)
	assert.False(t, buf.Exists(ctx, "u1"))
}

func TestExtendTTLKeepsEntryAlive(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, "u1", "typing"))
	mr.FastForward(40 * time.Second)
	buf.ExtendTTL(ctx, "u1")
	mr.FastForward(40 * time.Second)

	assert.True(t, buf.Exists(ctx, "u1"))
}

func TestBuffersAreIsolatedPerUser(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, "u1", "one"))
	require.NoError(t, buf.Append(ctx, "u2", "two"))

	assert.Equal(t, "one", buf.GetAndClear(ctx, "u1"))
	assert.Equal(t, "two", buf.Peek(ctx, "u2"))
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, buf.Append(ctx, "u1", "x"))
		}()
	}
	wg.Wait()

	got := buf.GetAndClear(ctx, "u1")
	assert.Len(t, got, 20*2-1) // 20 x's joined by single spaces
}

func TestStoreFailureSurfacesOnAppendOnly(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()
	mr.Close()

	err := buf.Append(ctx, "u1", "lost?")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))

	assert.Equal(t, "", buf.Peek(ctx, "u1"))
	assert.Equal(t, "", buf.GetAndClear(ctx, "u1"))
	assert.False(t, buf.Exists(ctx, "u1"))
	buf.ExtendTTL(ctx, "u1")
}
