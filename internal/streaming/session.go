package streaming

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrSessionNotFound marks an event for a stream the registry no longer (or
// never) held. It is recoverable: the ingester logs it and keeps reading.
var ErrSessionNotFound = errors.New("stream session not found")

type State int

const (
	StateOpen State = iota
	// StateFinalizing: terminal event received, persistence in flight.
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalizing:
		return "FINALIZING"
	default:
		return "UNKNOWN"
	}
}

// Outcome labels why a session left the registry.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeEmpty         Outcome = "empty"
	OutcomePersistFailed Outcome = "persist_failed"
	OutcomeAgentError    Outcome = "agent_error"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeIdleTimeout   Outcome = "idle_timeout"
	OutcomeOverdue       Outcome = "overdue"
)

type session struct {
	streamID       string
	userID         string
	response       strings.Builder
	started        bool
	state          State
	createdAt      time.Time
	lastActivityAt time.Time
}

// SessionInfo is a read-only copy of a session for observability.
type SessionInfo struct {
	StreamID       string    `json:"stream_id"`
	UserID         string    `json:"user_id"`
	State          string    `json:"state"`
	ResponseChars  int       `json:"response_chars"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		StreamID:       s.streamID,
		UserID:         s.userID,
		State:          s.state.String(),
		ResponseChars:  s.response.Len(),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// Persister stores the final text of a completed stream and returns the
// message id.
type Persister interface {
	PersistFinalMessage(ctx context.Context, userID, streamID, text string) (messageID string, err error)
}

// JournalEntry summarizes a finished stream.
type JournalEntry struct {
	StreamID      string
	UserID        string
	Outcome       Outcome
	ResponseChars int
	CreatedAt     time.Time
	EndedAt       time.Time
}

// Journal records finished streams. Record must not block.
type Journal interface {
	Record(entry JournalEntry)
}

// FinalizeError carries what is needed to retry persistence out of band.
type FinalizeError struct {
	StreamID string
	UserID   string
	Text     string
	Err      error
}

func (e *FinalizeError) Error() string {
	return "persist final message for stream " + e.StreamID + ": " + e.Err.Error()
}

func (e *FinalizeError) Unwrap() error { return e.Err }
