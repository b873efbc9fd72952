package models

import (
	"time"

	"github.com/lib/pq"
)

// Profile holds the display attributes sent to the agent with each turn.
type Profile struct {
	UserID   string `gorm:"column:user_id;type:text;primaryKey" json:"user_id"`
	Nickname string `gorm:"column:nickname;type:text" json:"nickname"`
	Class    string `gorm:"column:class;type:text" json:"class"`

	Badges pq.StringArray `gorm:"column:badges;type:text[]" json:"badges"`

	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
