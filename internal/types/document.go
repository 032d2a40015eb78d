package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Document statuses. A document moves uploaded -> processing -> completed|failed,
// may be archived from any terminal state, and returns to uploaded on restore.
const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
	DocumentStatusArchived   = "archived"
)

type Document struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_document_user_content_hash" json:"user_id"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`

	OriginalName string `gorm:"column:original_name;not null" json:"original_name"`
	StoredName   string `gorm:"column:stored_name;not null" json:"stored_name"`
	StorageKey   string `gorm:"column:storage_key;not null" json:"storage_key"`
	MimeType     string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64  `gorm:"column:size_bytes" json:"size_bytes"`
	// ContentHash is the SHA-256 of the raw file bytes, used for duplicate
	// detection. Immutable once set, and unique per owner: two users may
	// hold the same bytes.
	ContentHash *string `gorm:"column:content_hash;uniqueIndex:idx_document_user_content_hash" json:"content_hash,omitempty"`

	Title       string         `gorm:"column:title" json:"title"`
	Description string         `gorm:"column:description" json:"description"`
	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	Status          string     `gorm:"column:status;not null;default:'uploaded';index" json:"status"`
	ProcessingError *string    `gorm:"column:processing_error" json:"processing_error,omitempty"`
	ProcessedAt     *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`

	ExtractedContent *string        `gorm:"column:extracted_content;type:text" json:"extracted_content,omitempty"`
	ContentStats     datatypes.JSON `gorm:"column:content_stats;type:jsonb" json:"content_stats,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }

// ContentStatsPayload is the shape stored in Document.ContentStats.
type ContentStatsPayload struct {
	WordCount      int `json:"word_count"`
	CharacterCount int `json:"character_count"`
	LineCount      int `json:"line_count"`
	ParagraphCount int `json:"paragraph_count"`
}
