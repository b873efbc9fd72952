package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/metrics"
)

const publishTimeout = 2 * time.Second

type outbound struct {
	channel string
	payload []byte
}

// RedisNotifier publishes events on Redis pub/sub; the websocket relay
// forwards them to the user's client. A single publisher goroutine drains
// the queue so events for one user arrive in the order they were pushed.
type RedisNotifier struct {
	rdb   *redis.Client
	log   *logrus.Entry
	queue chan outbound
	now   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisNotifier(rdb *redis.Client, queueSize int, l *logrus.Logger) *RedisNotifier {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &RedisNotifier{
		rdb:   rdb,
		log:   logger.Component(l, "notifier"),
		queue: make(chan outbound, queueSize),
		now:   time.Now,
	}
}

func (n *RedisNotifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go n.run(ctx)
}

// Close stops the publisher after flushing what is already queued.
func (n *RedisNotifier) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

func (n *RedisNotifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case m := <-n.queue:
			n.publish(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-n.queue:
					n.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (n *RedisNotifier) publish(m outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.rdb.Publish(ctx, m.channel, m.payload).Err(); err != nil {
		n.log.WithError(err).WithField("channel", m.channel).Warn("publish failed")
	}
}

func (n *RedisNotifier) enqueue(channel string, ev Event) {
	ev.At = n.now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		n.log.WithError(err).Error("marshal event")
		return
	}
	select {
	case n.queue <- outbound{channel: channel, payload: b}:
	default:
		metrics.NotificationsDropped.Inc()
		n.log.WithFields(logrus.Fields{"channel": channel, "type": ev.Type}).Warn("notify queue full, event dropped")
	}
}

func (n *RedisNotifier) PushLoading(userID string) {
	n.enqueue(UserChannel(userID), Event{Type: TypeLoading})
}

func (n *RedisNotifier) PushStreamStart(userID, streamID string) {
	n.enqueue(UserChannel(userID), Event{Type: TypeStreamStart, StreamID: streamID})
}

func (n *RedisNotifier) PushChunk(userID, streamID, text string) {
	n.enqueue(UserChannel(userID), Event{Type: TypeChunk, StreamID: streamID, Content: text})
}

func (n *RedisNotifier) PushStreamEnd(userID, streamID, messageID string) {
	n.enqueue(UserChannel(userID), Event{Type: TypeStreamEnd, StreamID: streamID, MessageID: messageID})
}

func (n *RedisNotifier) PushError(userID string, kind ErrorKind) {
	n.enqueue(UserChannel(userID), Event{Type: TypeError, Error: kind})
}

func (n *RedisNotifier) PushStatus(status string) {
	n.enqueue(StatusChannel, Event{Type: TypeAgentStatus, Status: status})
}
