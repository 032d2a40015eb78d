package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SimplificationStatusPending    = "pending"
	SimplificationStatusProcessing = "processing"
	SimplificationStatusCompleted  = "completed"
	SimplificationStatusFailed     = "failed"
)

const (
	ComplexityBasic        = "basic"
	ComplexityIntermediate = "intermediate"
	ComplexityAdvanced     = "advanced"
)

// Simplification is one AI-generated cat-story rewrite of a document's
// extracted text. A document can carry several, at different complexity
// levels or from different models.
type Simplification struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Model      string         `gorm:"column:model;not null" json:"model"`
	Complexity string         `gorm:"column:complexity;not null;default:'basic'" json:"complexity"`
	Params     datatypes.JSON `gorm:"column:params;type:jsonb" json:"params,omitempty"`

	GeneratedTitle string         `gorm:"column:generated_title" json:"generated_title"`
	Story          *string        `gorm:"column:story;type:text" json:"story,omitempty"`
	Summary        string         `gorm:"column:summary;type:text" json:"summary"`
	KeyConcepts    datatypes.JSON `gorm:"column:key_concepts;type:jsonb" json:"key_concepts,omitempty"`

	Status string  `gorm:"column:status;not null;default:'pending';index" json:"status"`
	Error  *string `gorm:"column:error" json:"error,omitempty"`

	TokensUsed     int            `gorm:"column:tokens_used" json:"tokens_used"`
	CostUSD        float64        `gorm:"column:cost_usd" json:"cost_usd"`
	ElapsedSeconds float64        `gorm:"column:elapsed_seconds" json:"elapsed_seconds"`
	Quality        datatypes.JSON `gorm:"column:quality;type:jsonb" json:"quality,omitempty"`

	Favorite      bool   `gorm:"column:favorite;not null;default:false" json:"favorite"`
	Rating        *int   `gorm:"column:rating" json:"rating,omitempty"`
	FeedbackNotes string `gorm:"column:feedback_notes" json:"feedback_notes"`

	IsPublic         bool       `gorm:"column:is_public;not null;default:false;index" json:"is_public"`
	ShareToken       *string    `gorm:"column:share_token;uniqueIndex" json:"share_token,omitempty"`
	DownloadCount    int        `gorm:"column:download_count;not null;default:0" json:"download_count"`
	LastDownloadedAt *time.Time `gorm:"column:last_downloaded_at" json:"last_downloaded_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Simplification) TableName() string { return "simplification" }
