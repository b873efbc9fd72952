package workers

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultQuietInterval = 1 * time.Second
	DefaultTimerPoolSize = 16
)

type debounceEntry struct {
	timer *time.Timer
}

// Debouncer keeps at most one pending single-shot timer per user. A new
// activity replaces the pending timer; the callback runs once the user has
// been quiet for the whole interval.
//
// Callbacks run on a bounded pool: at most poolSize fire at the same time.
type Debouncer struct {
	quiet time.Duration
	sem   *semaphore.Weighted
	log   *logrus.Entry

	mu      sync.Mutex
	pending map[string]*debounceEntry
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDebouncer(quiet time.Duration, poolSize int, l *logrus.Logger) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietInterval
	}
	if poolSize <= 0 {
		poolSize = DefaultTimerPoolSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		quiet:   quiet,
		sem:     semaphore.NewWeighted(int64(poolSize)),
		log:     logger.Component(l, "debouncer"),
		pending: make(map[string]*debounceEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnActivity (re)schedules onElapsed for userID. Any pending timer for the
// user is stopped without interrupting a callback that has already started.
func (d *Debouncer) OnActivity(userID string, onElapsed func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if prev, ok := d.pending[userID]; ok {
		prev.timer.Stop()
	}

	e := &debounceEntry{}
	e.timer = time.AfterFunc(d.quiet, func() { d.fire(userID, e, onElapsed) })
	d.pending[userID] = e
}

// Cancel drops the pending timer for userID, if any.
func (d *Debouncer) Cancel(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.pending[userID]; ok {
		e.timer.Stop()
		delete(d.pending, userID)
	}
}

// Pending reports whether userID has a scheduled, not yet fired timer.
func (d *Debouncer) Pending(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[userID]
	return ok
}

// Stop cancels every pending timer and waits for running callbacks.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for userID, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, userID)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Debouncer) fire(userID string, e *debounceEntry, onElapsed func()) {
	d.mu.Lock()
	// Unmap before running so new activity schedules a fresh timer instead of
	// cancelling this one. A newer entry may already own the slot.
	if cur, ok := d.pending[userID]; ok && cur == e {
		delete(d.pending, userID)
	}
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"user_id": userID,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("debounce callback panicked")
		}
	}()
	onElapsed()
}
