package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierPublishesInOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, UserChannel("u1"), StatusChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	n := NewRedisNotifier(rdb, 16, logrus.New())
	n.Start(ctx)

	n.PushLoading("u1")
	n.PushStreamStart("u1", "1-ab")
	n.PushChunk("u1", "1-ab", "He")
	n.PushChunk("u1", "1-ab", "llo")
	n.PushStreamEnd("u1", "1-ab", "m-1")
	n.PushError("u1", ErrStreamTimeout)
	n.PushStatus("CONNECTED")

	want := []string{TypeLoading, TypeStreamStart, TypeChunk, TypeChunk, TypeStreamEnd, TypeError, TypeAgentStatus}
	var got []Event
	ch := sub.Channel()
	for len(got) < len(want) {
		select {
		case m := <-ch:
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(m.Payload), &ev))
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", len(got), len(want))
		}
	}
	n.Close()

	for i, w := range want {
		assert.Equal(t, w, got[i].Type)
	}
	assert.Equal(t, "He", got[2].Content)
	assert.Equal(t, "llo", got[3].Content)
	assert.Equal(t, "m-1", got[4].MessageID)
	assert.Equal(t, ErrStreamTimeout, got[5].Error)
	assert.Equal(t, "CONNECTED", got[6].Status)
}

func TestRedisNotifierDropsWhenQueueFull(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// not started: nothing drains the queue
	n := NewRedisNotifier(rdb, 1, logrus.New())
	n.PushLoading("u1")
	n.PushLoading("u1")

	assert.Len(t, n.queue, 1)
}
