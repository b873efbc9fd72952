// Package streamid produces identifiers for streaming turns.
//
// An id has the shape "<unix-millis>-<hex>". The millisecond part never goes
// backwards within a process, so ids sort lexicographically in creation order
// (while the millis stay 13 digits wide).
package streamid

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"
)

const randomBytes = 8

// Generator hands out unique, time-ordered stream ids.
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// New returns the next id. The time component is bumped by one when the clock
// has not advanced since the previous call.
func (g *Generator) New() string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return strconv.FormatInt(ms, 10) + "-" + randomHex(randomBytes)
}

// IsValid reports whether id has the "<integer>-<hex>" shape.
func IsValid(id string) bool {
	ts, rnd, ok := strings.Cut(id, "-")
	if !ok || ts == "" || rnd == "" {
		return false
	}
	if _, err := strconv.ParseUint(ts, 10, 64); err != nil {
		return false
	}
	for _, r := range rnd {
		if !isHex(r) {
			return false
		}
	}
	return true
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the
		// clock so the id still validates.
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}
