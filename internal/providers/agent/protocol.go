package agent

import "errors"

// ErrAgentUnavailable is returned without any network call when the health
// monitor reports the agent as unreachable.
var ErrAgentUnavailable = errors.New("agent unavailable")

// Inbound event kinds on the push connection.
const (
	EventStream = "stream"
	EventDone   = "done"
	EventError  = "error"
)

// Frame is one inbound event multiplexed by stream id.
type Frame struct {
	StreamID string `json:"stream_id"`
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TurnPayload is the outbound submission of one assembled user turn.
type TurnPayload struct {
	StreamID string   `json:"stream_id"`
	UserID   string   `json:"user_id"`
	Nickname string   `json:"nickname,omitempty"`
	Class    string   `json:"class,omitempty"`
	Badges   []string `json:"badges,omitempty"`
	Message  string   `json:"message"`
}

type stopRequest struct {
	UserID string `json:"user_id"`
}
