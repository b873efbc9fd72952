package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StreamLog is the journal record of one finished stream.
type StreamLog struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StreamID string             `bson:"stream_id" json:"stream_id"`
	UserID   string             `bson:"user_id" json:"user_id"`

	Status        string `bson:"status" json:"status"` // completed|empty|persist_failed|agent_error|cancelled|idle_timeout|overdue
	ResponseChars int    `bson:"response_chars" json:"response_chars"`

	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	EndedAt    time.Time `bson:"ended_at" json:"ended_at"`
	DurationMS int64     `bson:"duration_ms" json:"duration_ms"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
