// Package notify is the boundary where engine results cross to the end
// user's connected client.
package notify

import "time"

// ErrorKind is the user-facing classification of a failed turn.
type ErrorKind string

const (
	ErrAgentUnavailable   ErrorKind = "agent_unavailable"
	ErrConnectionFailed   ErrorKind = "connection_failed"
	ErrTimeout            ErrorKind = "timeout"
	ErrClientError        ErrorKind = "client_error"
	ErrInternalError      ErrorKind = "internal_error"
	ErrStreamParseFailure ErrorKind = "stream_parse_failure"
	ErrStreamEndFailed    ErrorKind = "stream_end_failed"
	ErrStreamTimeout      ErrorKind = "stream_timeout"
	ErrAgentError         ErrorKind = "agent_error"
	ErrEmptyResponse      ErrorKind = "empty_response"
)

// Event types delivered to clients.
const (
	TypeLoading     = "loading"
	TypeStreamStart = "stream_start"
	TypeChunk       = "chunk"
	TypeStreamEnd   = "stream_end"
	TypeError       = "error"
	TypeAgentStatus = "agent_status"
)

// Event is the JSON frame relayed to a user's websocket.
type Event struct {
	Type      string    `json:"type"`
	StreamID  string    `json:"stream_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Error     ErrorKind `json:"error,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier pushes engine results to end users. Every method is
// fire-and-forget and must not block the caller.
type Notifier interface {
	PushLoading(userID string)
	PushStreamStart(userID, streamID string)
	PushChunk(userID, streamID, text string)
	PushStreamEnd(userID, streamID, messageID string)
	PushError(userID string, kind ErrorKind)
	PushStatus(status string)
}

const (
	userChannelPrefix = "chat:user:"
	StatusChannel     = "chat:agent_status"
)

// UserChannel is the pub/sub channel carrying one user's events.
func UserChannel(userID string) string { return userChannelPrefix + userID }
