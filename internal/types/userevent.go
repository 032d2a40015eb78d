package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UserEvent is a best-effort analytics record. UserID is nil when the
// anonymize flag is on.
type UserEvent struct {
	ID      uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID  *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Name    string         `gorm:"column:name;not null;index" json:"name"`
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (UserEvent) TableName() string { return "user_event" }
