package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/yoochat/internal/models"
	pgrepo "github.com/yoockh/yoochat/internal/repositories/postgres"
	"github.com/yoockh/yoochat/internal/utils"
	"gorm.io/datatypes"
)

// MessageService stores finished AI responses and serves chat history.
// It is the registry's persistence collaborator.
type MessageService interface {
	PersistFinalMessage(ctx context.Context, userID, streamID, text string) (string, error)
	ListMine(ctx context.Context, userID string, before time.Time, limit int) ([]models.ChatMessage, error)
}

type messageService struct {
	messages pgrepo.ChatMessageRepo
	now      func() time.Time
}

func NewMessageService(messages pgrepo.ChatMessageRepo) MessageService {
	return &messageService{messages: messages, now: time.Now}
}

type messageMetadata struct {
	StreamID string `json:"stream_id"`
	Chars    int    `json:"chars"`
}

func (s *messageService) PersistFinalMessage(ctx context.Context, userID, streamID, text string) (string, error) {
	const op = "MessageService.PersistFinalMessage"

	if userID == "" || strings.TrimSpace(text) == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "user_id and text are required", nil)
	}

	meta, _ := json.Marshal(messageMetadata{StreamID: streamID, Chars: len(text)})
	row := &models.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		StreamID:  streamID,
		Role:      models.RoleAssistant,
		Content:   text,
		Metadata:  datatypes.JSON(meta),
		CreatedAt: s.now().UTC(),
	}

	if err := s.messages.Insert(ctx, row); err != nil {
		if ctx.Err() != nil {
			return "", utils.E(utils.CodeTimeout, op, "persist timed out", err)
		}
		return "", utils.E(utils.CodeInternal, op, "failed to insert chat message", err)
	}
	return row.ID, nil
}

func (s *messageService) ListMine(ctx context.Context, userID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	const op = "MessageService.ListMine"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.messages.ListByUser(ctx, userID, before, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list chat messages", err)
	}
	return rows, nil
}
