package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/utils"
)

const (
	DefaultTypingTTL = 60 * time.Second

	typingKeyPrefix = "chat:typing:"
)

// appendScript joins the fragment onto the stored text with one space and
// resets the TTL in a single server-side step.
var appendScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local v = ARGV[1]
if cur and cur ~= '' then
  v = cur .. ' ' .. ARGV[1]
end
redis.call('SET', KEYS[1], v, 'PX', ARGV[2])
return v
`)

type RedisTypingBuffer struct {
	rdb *redis.Client
	ttl time.Duration
	log *logrus.Entry
}

func NewRedisTypingBuffer(rdb *redis.Client, ttl time.Duration, l *logrus.Logger) *RedisTypingBuffer {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &RedisTypingBuffer{rdb: rdb, ttl: ttl, log: logger.Component(l, "typing_buffer")}
}

func typingKey(userID string) string { return typingKeyPrefix + userID }

func (b *RedisTypingBuffer) Append(ctx context.Context, userID, fragment string) error {
	const op = "TypingBuffer.Append"

	fragment = strings.TrimSpace(fragment)
	if userID == "" || fragment == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and a non-blank fragment are required", nil)
	}

	if err := appendScript.Run(ctx, b.rdb, []string{typingKey(userID)}, fragment, b.ttl.Milliseconds()).Err(); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to buffer message", err)
	}
	return nil
}

func (b *RedisTypingBuffer) ExtendTTL(ctx context.Context, userID string) {
	if err := b.rdb.Expire(ctx, typingKey(userID), b.ttl).Err(); err != nil {
		b.log.WithError(err).WithField("user_id", userID).Warn("extend ttl failed")
	}
}

func (b *RedisTypingBuffer) GetAndClear(ctx context.Context, userID string) string {
	s, err := b.rdb.GetDel(ctx, typingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		b.log.WithError(err).WithField("user_id", userID).Warn("get-and-clear failed")
		return ""
	}
	return strings.TrimSpace(s)
}

func (b *RedisTypingBuffer) Peek(ctx context.Context, userID string) string {
	s, err := b.rdb.Get(ctx, typingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		b.log.WithError(err).WithField("user_id", userID).Warn("peek failed")
		return ""
	}
	return s
}

func (b *RedisTypingBuffer) Exists(ctx context.Context, userID string) bool {
	n, err := b.rdb.Exists(ctx, typingKey(userID)).Result()
	if err != nil {
		b.log.WithError(err).WithField("user_id", userID).Warn("exists check failed")
		return false
	}
	return n > 0
}
