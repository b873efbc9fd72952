package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoochat/internal/models"
	"github.com/yoockh/yoochat/internal/utils"
	"gorm.io/gorm"
)

type ChatMessageRepo interface {
	Insert(ctx context.Context, m *models.ChatMessage) error
	ListByUser(ctx context.Context, userID string, before time.Time, limit int) ([]models.ChatMessage, error)
	GetByStreamID(ctx context.Context, streamID string) (*models.ChatMessage, error)
}

type chatMessageRepo struct {
	db *gorm.DB
}

func NewChatMessageRepo(db *gorm.DB) ChatMessageRepo {
	return &chatMessageRepo{db: db}
}

func (r *chatMessageRepo) Insert(ctx context.Context, m *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListByUser returns the newest messages first. A zero before means now.
func (r *chatMessageRepo) ListByUser(ctx context.Context, userID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}

	var rows []models.ChatMessage
	err := q.Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *chatMessageRepo) GetByStreamID(ctx context.Context, streamID string) (*models.ChatMessage, error) {
	var row models.ChatMessage
	err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}
