package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/cache"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/models"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/providers/agent"
	"github.com/yoockh/yoochat/internal/streaming"
	"github.com/yoockh/yoochat/internal/utils"
)

const flushTimeout = 5 * time.Second

// Health is the read-only agent status shown to users.
type Health struct {
	Status        string     `json:"status"`
	Available     bool       `json:"available"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	ActiveStreams int        `json:"active_streams"`
}

// ChatService is the entry point the command surface drives.
type ChatService interface {
	OnUserTyping(ctx context.Context, userID string) error
	OnUserSend(ctx context.Context, userID, fragment string) error
	OnUserStop(ctx context.Context, userID string) error
	GetHealth() Health

	// HandleGatewayFailure receives terminal outbound failures.
	HandleGatewayFailure(f agent.Failure)
	// OnHealthChange broadcasts agent status transitions to users.
	OnHealthChange(s agent.Status)
}

type TurnGateway interface {
	SubmitTurn(p agent.TurnPayload) error
	RequestStop(userID string) error
}

type HealthGate interface {
	Status() agent.Status
	IsAvailable() bool
	LastSuccess() time.Time
}

type Debounce interface {
	OnActivity(userID string, onElapsed func())
	Cancel(userID string)
}

type DisplayResolver interface {
	DisplayAttributes(ctx context.Context, userID string) models.Profile
}

type ChatDeps struct {
	Buffer   cache.TypingBuffer
	Debounce Debounce
	Registry *streaming.Registry
	Gateway  TurnGateway
	Health   HealthGate
	Notifier notify.Notifier
	Profiles DisplayResolver
}

type chatService struct {
	ChatDeps
	log *logrus.Entry
}

func NewChatService(d ChatDeps, l *logrus.Logger) ChatService {
	return &chatService{ChatDeps: d, log: logger.Component(l, "chat_service")}
}

// OnUserTyping keeps a pending turn open while the user is still typing.
// Without a buffered turn there is nothing to hold back.
func (s *chatService) OnUserTyping(ctx context.Context, userID string) error {
	const op = "ChatService.OnUserTyping"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if !s.Buffer.Exists(ctx, userID) {
		return nil
	}
	s.Buffer.ExtendTTL(ctx, userID)
	s.Debounce.OnActivity(userID, func() { s.flush(userID) })
	return nil
}

// OnUserSend appends fragment to the user's turn and restarts the quiet
// period. The buffer is untouched when the agent is unavailable.
func (s *chatService) OnUserSend(ctx context.Context, userID, fragment string) error {
	const op = "ChatService.OnUserSend"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if strings.TrimSpace(fragment) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "message must not be empty", nil)
	}
	if !s.Health.IsAvailable() {
		return utils.E(utils.CodeUnavailable, op, "agent unavailable", agent.ErrAgentUnavailable)
	}

	if err := s.Buffer.Append(ctx, userID, fragment); err != nil {
		return err
	}
	s.Debounce.OnActivity(userID, func() { s.flush(userID) })
	return nil
}

// OnUserStop drops the pending turn, removes the user's live streams and
// asks the agent to stop producing.
func (s *chatService) OnUserStop(ctx context.Context, userID string) error {
	const op = "ChatService.OnUserStop"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	s.Debounce.Cancel(userID)
	if dropped := s.Buffer.GetAndClear(ctx, userID); dropped != "" {
		s.log.WithField("user_id", userID).Debug("pending turn discarded on stop")
	}

	cancelled := 0
	for _, id := range s.Registry.StreamsForUser(userID) {
		if s.Registry.Cancel(id) {
			cancelled++
		}
	}

	if err := s.Gateway.RequestStop(userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Debug("stop request not sent")
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "cancelled": cancelled}).Info("user stopped streaming")
	return nil
}

func (s *chatService) GetHealth() Health {
	h := Health{
		Status:        s.Health.Status().String(),
		Available:     s.Health.IsAvailable(),
		ActiveStreams: s.Registry.Len(),
	}
	if t := s.Health.LastSuccess(); !t.IsZero() {
		h.LastSuccessAt = &t
	}
	return h
}

// flush runs on the debounce pool once the user has been quiet.
func (s *chatService) flush(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	log := s.log.WithField("user_id", userID)

	if !s.Health.IsAvailable() {
		log.Warn("agent unavailable at flush, turn kept")
		s.Notifier.PushError(userID, notify.ErrAgentUnavailable)
		return
	}

	text := s.Buffer.GetAndClear(ctx, userID)
	if text == "" {
		log.Debug("nothing to flush")
		return
	}

	streamID, err := s.Registry.Start(userID)
	if err != nil {
		log.WithError(err).Error("open stream failed")
		s.Notifier.PushError(userID, notify.ErrInternalError)
		return
	}
	s.Notifier.PushLoading(userID)

	attrs := models.Profile{UserID: userID}
	if s.Profiles != nil {
		attrs = s.Profiles.DisplayAttributes(ctx, userID)
	}

	err = s.Gateway.SubmitTurn(agent.TurnPayload{
		StreamID: streamID,
		UserID:   userID,
		Nickname: attrs.Nickname,
		Class:    attrs.Class,
		Badges:   attrs.Badges,
		Message:  text,
	})
	if err != nil {
		s.Registry.Cancel(streamID)
		kind := notify.ErrInternalError
		if errors.Is(err, agent.ErrAgentUnavailable) {
			kind = notify.ErrAgentUnavailable
		}
		log.WithError(err).WithField("stream_id", streamID).Warn("turn not submitted")
		s.Notifier.PushError(userID, kind)
		return
	}
	log.WithFields(logrus.Fields{"stream_id": streamID, "chars": len(text)}).Info("turn submitted")
}

func (s *chatService) HandleGatewayFailure(f agent.Failure) {
	if f.StreamID != "" {
		s.Registry.Cancel(f.StreamID)
	}
	if f.Op != agent.OpSubmitTurn || f.UserID == "" {
		// stop requests are best-effort
		return
	}
	s.Notifier.PushError(f.UserID, f.Kind)
}

func (s *chatService) OnHealthChange(st agent.Status) {
	s.Notifier.PushStatus(st.String())
}
