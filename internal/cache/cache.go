package cache

import (
	"context"
	"time"
)

// Cache is a JSON value cache with TTL.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// TypingBuffer holds the accumulated-but-unsent text of each user.
//
// Append reports store failures because they mean dropped user input. The
// other operations degrade to empty/false and log, since their callers already
// treat a miss as a normal outcome.
type TypingBuffer interface {
	Append(ctx context.Context, userID, fragment string) error
	ExtendTTL(ctx context.Context, userID string)
	GetAndClear(ctx context.Context, userID string) string
	Peek(ctx context.Context, userID string) string
	Exists(ctx context.Context, userID string) bool
}
