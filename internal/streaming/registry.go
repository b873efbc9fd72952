package streaming

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/metrics"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/streamid"
	"github.com/yoockh/yoochat/internal/utils"
)

const DefaultPersistTimeout = 5 * time.Second

// Registry is the single source of truth for active streams. Callers never
// hold session references; every mutation goes through a registry method.
//
// Per-stream ordering comes from the caller: the ingester dispatches all
// events of one connection from a single goroutine.
type Registry struct {
	ids            *streamid.Generator
	notifier       notify.Notifier
	persister      Persister
	journal        Journal
	persistTimeout time.Duration
	log            *logrus.Entry
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Registry)

// WithJournal records every finished stream in j.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

func WithPersistTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.persistTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(ids *streamid.Generator, notifier notify.Notifier, persister Persister, l *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		ids:            ids,
		notifier:       notifier,
		persister:      persister,
		persistTimeout: DefaultPersistTimeout,
		log:            logger.Component(l, "stream_registry"),
		now:            time.Now,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens a session for userID and returns its stream id.
func (r *Registry) Start(userID string) (string, error) {
	const op = "Registry.Start"

	if userID == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	now := r.now()
	s := &session{
		streamID:       r.ids.New(),
		userID:         userID,
		state:          StateOpen,
		createdAt:      now,
		lastActivityAt: now,
	}

	r.mu.Lock()
	r.sessions[s.streamID] = s
	metrics.ActiveStreams.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	metrics.StreamsStarted.Inc()
	r.log.WithFields(logrus.Fields{"stream_id": s.streamID, "user_id": userID}).Debug("stream opened")
	return s.streamID, nil
}

// AppendChunk adds fragment to the stream's response and forwards it to the
// owning user. The first non-empty fragment also signals stream start.
func (r *Registry) AppendChunk(streamID, fragment string) error {
	const op = "Registry.AppendChunk"

	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok || s.state != StateOpen {
		r.mu.Unlock()
		return utils.E(utils.CodeNotFound, op, "stream session not found", ErrSessionNotFound)
	}
	s.response.WriteString(fragment)
	s.lastActivityAt = r.now()
	first := false
	if fragment != "" && !s.started {
		s.started = true
		first = true
	}
	userID := s.userID
	r.mu.Unlock()

	if first {
		r.safeNotify(streamID, func() { r.notifier.PushStreamStart(userID, streamID) })
	}
	if fragment != "" {
		r.safeNotify(streamID, func() { r.notifier.PushChunk(userID, streamID, fragment) })
	}
	return nil
}

// Complete finalizes a stream. A missing session is tolerated (duplicate or
// late completion). Persistence failures are reported to the user and
// returned wrapping a *FinalizeError.
func (r *Registry) Complete(ctx context.Context, streamID string) error {
	const op = "Registry.Complete"

	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok || s.state != StateOpen {
		r.mu.Unlock()
		metrics.LateEvents.WithLabelValues("done").Inc()
		r.log.WithField("stream_id", streamID).Debug("completion for inactive stream ignored")
		return nil
	}
	text := s.response.String()
	if text == "" {
		info := s.info()
		r.removeLocked(streamID)
		r.mu.Unlock()

		r.log.WithFields(logrus.Fields{"stream_id": streamID, "user_id": info.UserID}).Warn("stream completed without content")
		r.safeNotify(streamID, func() { r.notifier.PushError(info.UserID, notify.ErrEmptyResponse) })
		r.finish(info, OutcomeEmpty)
		return nil
	}
	s.state = StateFinalizing
	userID := s.userID
	r.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	defer cancel()
	messageID, err := r.persister.PersistFinalMessage(pctx, userID, streamID, text)

	r.mu.Lock()
	info := s.info()
	owned := r.sessions[streamID] == s
	if owned {
		r.removeLocked(streamID)
	}
	r.mu.Unlock()

	if !owned {
		// cancelled while persisting; Cancel already recorded the outcome
		r.log.WithError(err).WithFields(logrus.Fields{
			"stream_id":  streamID,
			"user_id":    userID,
			"message_id": messageID,
		}).Info("stream cancelled during finalize")
		return nil
	}

	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"stream_id": streamID, "user_id": userID}).Error("persist final message failed")
		r.safeNotify(streamID, func() { r.notifier.PushError(userID, notify.ErrStreamEndFailed) })
		r.finish(info, OutcomePersistFailed)
		return utils.E(utils.CodeInternal, op, "stream end failed", &FinalizeError{
			StreamID: streamID,
			UserID:   userID,
			Text:     text,
			Err:      err,
		})
	}

	r.safeNotify(streamID, func() { r.notifier.PushStreamEnd(userID, streamID, messageID) })
	r.finish(info, OutcomeCompleted)
	r.log.WithFields(logrus.Fields{
		"stream_id":  streamID,
		"user_id":    userID,
		"message_id": messageID,
		"chars":      len(text),
	}).Info("stream completed")
	return nil
}

// Error surfaces an agent-reported failure to the user and drops the stream.
func (r *Registry) Error(streamID, message string) {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok || s.state != StateOpen {
		r.mu.Unlock()
		metrics.LateEvents.WithLabelValues("error").Inc()
		r.log.WithField("stream_id", streamID).Debug("error for inactive stream ignored")
		return
	}
	info := s.info()
	r.removeLocked(streamID)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"stream_id": streamID,
		"user_id":   info.UserID,
		"message":   message,
	}).Warn("agent reported stream error")
	r.safeNotify(streamID, func() { r.notifier.PushError(info.UserID, notify.ErrAgentError) })
	r.finish(info, OutcomeAgentError)
}

// Cancel removes the session if present. It has no other side effects. A
// session cancelled mid-finalize keeps its persisted message but gets no
// stream_end.
func (r *Registry) Cancel(streamID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[streamID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	info := s.info()
	r.removeLocked(streamID)
	r.mu.Unlock()

	r.finish(info, OutcomeCancelled)
	return true
}

func (r *Registry) LookupUserID(streamID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[streamID]
	if !ok {
		return "", false
	}
	return s.userID, true
}

// StreamsForUser returns the ids of the user's live streams, oldest first.
func (r *Registry) StreamsForUser(userID string) []string {
	r.mu.Lock()
	var out []string
	for id, s := range r.sessions {
		if s.userID == userID {
			out = append(out, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

// ReapIdle removes open sessions without agent activity for longer than
// maxIdle and tells their users the stream timed out.
func (r *Registry) ReapIdle(maxIdle time.Duration) int {
	now := r.now()
	return r.reap(OutcomeIdleTimeout, func(s *session) bool {
		return s.state == StateOpen && now.Sub(s.lastActivityAt) > maxIdle
	})
}

// ReapOverdue removes sessions older than maxAge, notifying their users.
// Sessions that are persisting are left to finish.
func (r *Registry) ReapOverdue(maxAge time.Duration) int {
	now := r.now()
	return r.reap(OutcomeOverdue, func(s *session) bool {
		return s.state == StateOpen && now.Sub(s.createdAt) > maxAge
	})
}

func (r *Registry) reap(outcome Outcome, expired func(*session) bool) int {
	r.mu.Lock()
	var victims []SessionInfo
	for id, s := range r.sessions {
		if expired(s) {
			victims = append(victims, s.info())
			r.removeLocked(id)
		}
	}
	r.mu.Unlock()

	for _, info := range victims {
		userID := info.UserID
		r.safeNotify(info.StreamID, func() { r.notifier.PushError(userID, notify.ErrStreamTimeout) })
		r.finish(info, outcome)
	}
	if len(victims) > 0 {
		r.log.WithFields(logrus.Fields{"reaped": len(victims), "outcome": outcome}).Info("reaped stream sessions")
	}
	return len(victims)
}

// Snapshot lists the active sessions ordered by stream id.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) removeLocked(streamID string) {
	delete(r.sessions, streamID)
	metrics.ActiveStreams.Set(float64(len(r.sessions)))
}

func (r *Registry) finish(info SessionInfo, outcome Outcome) {
	metrics.StreamsFinished.WithLabelValues(string(outcome)).Inc()
	if r.journal == nil {
		return
	}
	r.journal.Record(JournalEntry{
		StreamID:      info.StreamID,
		UserID:        info.UserID,
		Outcome:       outcome,
		ResponseChars: info.ResponseChars,
		CreatedAt:     info.CreatedAt,
		EndedAt:       r.now(),
	})
}

// safeNotify contains notifier panics so a sweep or dispatch keeps going.
func (r *Registry) safeNotify(streamID string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{"stream_id": streamID, "panic": rec}).Error("notify failed")
		}
	}()
	fn()
}
