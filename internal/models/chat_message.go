package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleAssistant = "assistant"
)

// ChatMessage is one persisted AI response. StreamID links it back to the
// stream that produced it.
type ChatMessage struct {
	ID        string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"column:user_id;type:text;index:idx_chat_messages_user_created,priority:1" json:"user_id"`
	StreamID  string         `gorm:"column:stream_id;type:text;uniqueIndex" json:"stream_id"`
	Role      string         `gorm:"column:role;type:text" json:"role"`
	Content   string         `gorm:"column:content;type:text" json:"content"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamptz;index:idx_chat_messages_user_created,priority:2" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
