package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/types"
)

// ExtractionService runs the document_extract job: pull the stored bytes,
// extract text, and move the document through
// uploaded -> processing -> completed|failed.
type ExtractionService interface {
	Run(ctx context.Context, documentID uuid.UUID) error
}

type extractionService struct {
	db        *gorm.DB
	log       *logger.Logger
	documents repos.DocumentRepo
	files     FileService
	lifecycle *LifecycleManager
}

func NewExtractionService(db *gorm.DB, log *logger.Logger, documents repos.DocumentRepo, files FileService, lifecycle *LifecycleManager) ExtractionService {
	return &extractionService{
		db:        db,
		log:       log.With("service", "ExtractionService"),
		documents: documents,
		files:     files,
		lifecycle: lifecycle,
	}
}

func (s *extractionService) Run(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.documents.GetByID(ctx, nil, documentID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			// Deleted between dispatch and execution. Nothing to do.
			s.log.Info("Extraction skipped, document gone", "document_id", documentID)
			return nil
		}
		return err
	}

	if doc.Status != types.DocumentStatusUploaded {
		s.log.Info("Extraction skipped, unexpected status", "document_id", doc.ID, "status", doc.Status)
		return nil
	}
	if s.lifecycle.IsCancelled(ctx, doc.ID) {
		s.log.Info("Extraction skipped, document cancelled", "document_id", doc.ID)
		return nil
	}

	processing := *doc
	processing.Status = types.DocumentStatusProcessing
	cur, err := s.transition(ctx, doc, &processing)
	if err != nil {
		return err
	}

	text, extractErr := s.extract(ctx, cur)

	// A cancel that landed while we were reading still wins.
	if s.lifecycle.IsCancelled(ctx, cur.ID) {
		s.log.Info("Extraction abandoned, document cancelled mid-run", "document_id", cur.ID)
		return nil
	}

	updated := *cur
	if extractErr != nil {
		msg := extractErr.Error()
		updated.Status = types.DocumentStatusFailed
		updated.ProcessingError = &msg
	} else {
		updated.Status = types.DocumentStatusCompleted
		updated.ExtractedContent = &text
	}

	if _, err := s.transition(ctx, cur, &updated); err != nil {
		return err
	}
	if extractErr != nil {
		s.log.Warn("Extraction failed", "document_id", cur.ID, "error", extractErr)
	}
	return nil
}

func (s *extractionService) extract(ctx context.Context, doc *types.Document) (string, error) {
	data, err := s.files.Read(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}
	text, err := ExtractText(doc.OriginalName, doc.MimeType, data)
	if err != nil {
		return "", err
	}
	return text, nil
}

// transition mirrors the persistence owner's update path so worker-side
// status changes run the same lifecycle hooks.
func (s *extractionService) transition(ctx context.Context, old, updated *types.Document) (*types.Document, error) {
	s.lifecycle.OnUpdating(ctx, old, updated)

	fields := map[string]any{
		"status":            updated.Status,
		"processing_error":  updated.ProcessingError,
		"processed_at":      updated.ProcessedAt,
		"extracted_content": updated.ExtractedContent,
		"content_stats":     updated.ContentStats,
	}
	if err := s.documents.Updates(ctx, nil, updated.ID, fields); err != nil {
		return nil, err
	}
	s.lifecycle.OnUpdated(ctx, old, updated)
	return updated, nil
}
