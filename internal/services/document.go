package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/types"
)

// allowedUploadTypes maps accepted extensions to the mime type recorded when
// the client does not declare one.
var allowedUploadTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
}

type UploadRequest struct {
	UserID      uuid.UUID
	File        *multipart.FileHeader
	Title       string
	Description string
}

type UpdateDocumentRequest struct {
	Title       *string
	Description *string
	Metadata    map[string]any
}

// DocumentService owns the document persistence boundary. Every mutation
// passes through the lifecycle manager's hooks.
type DocumentService interface {
	Upload(ctx context.Context, req UploadRequest) (*types.Document, error)
	Get(ctx context.Context, userID, docID uuid.UUID) (*types.Document, error)
	List(ctx context.Context, userID uuid.UUID, filter repos.DocumentListFilter) ([]*types.Document, error)
	Update(ctx context.Context, userID, docID uuid.UUID, req UpdateDocumentRequest) (*types.Document, error)
	Archive(ctx context.Context, userID, docID uuid.UUID) (*types.Document, error)
	Delete(ctx context.Context, userID, docID uuid.UUID) error
	Restore(ctx context.Context, userID, docID uuid.UUID) (*types.Document, error)
	ForceDelete(ctx context.Context, userID, docID uuid.UUID) error
	Download(ctx context.Context, userID, docID uuid.UUID) (*types.Document, []byte, error)
}

type documentService struct {
	db        *gorm.DB
	log       *logger.Logger
	documents repos.DocumentRepo
	files     FileService
	lifecycle *LifecycleManager
	maxBytes  int64
}

func NewDocumentService(db *gorm.DB, log *logger.Logger, documents repos.DocumentRepo, files FileService, lifecycle *LifecycleManager, maxBytes int64) DocumentService {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &documentService{
		db:        db,
		log:       log.With("service", "DocumentService"),
		documents: documents,
		files:     files,
		lifecycle: lifecycle,
		maxBytes:  maxBytes,
	}
}

func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*types.Document, error) {
	if req.File == nil {
		return nil, fmt.Errorf("%w: file required", pkgerrors.ErrInvalidArgument)
	}
	if req.File.Size > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", pkgerrors.ErrInvalidArgument, s.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(req.File.Filename))
	fallbackMime, ok := allowedUploadTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", pkgerrors.ErrInvalidArgument, ext)
	}
	mimeType := req.File.Header.Get("Content-Type")
	if strings.TrimSpace(mimeType) == "" {
		mimeType = fallbackMime
	}

	f, err := req.File.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	// Hash while the bytes are in hand so an already-uploaded duplicate is
	// caught before we write a second copy.
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := s.documents.GetByContentHash(ctx, nil, req.UserID, hash); err == nil && existing != nil {
		return existing, pkgerrors.ErrDuplicate
	}

	storedName, key, err := s.files.Store(ctx, req.UserID, req.File.Filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	doc := &types.Document{
		UserID:       req.UserID,
		OriginalName: req.File.Filename,
		StoredName:   storedName,
		StorageKey:   key,
		MimeType:     mimeType,
		SizeBytes:    req.File.Size,
		ContentHash:  &hash,
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		Status:       types.DocumentStatusUploaded,
	}

	s.lifecycle.OnCreating(ctx, doc)
	created, err := s.documents.Create(ctx, nil, doc)
	if err != nil {
		// The object was written before the insert; don't orphan it.
		if delErr := s.files.Delete(ctx, key); delErr != nil && !errors.Is(delErr, pkgerrors.ErrNotFound) {
			s.log.Warn("Orphaned upload cleanup failed", "key", key, "error", delErr)
		}
		return nil, err
	}
	s.lifecycle.OnCreated(ctx, created)
	return created, nil
}

func (s *documentService) Get(ctx context.Context, userID, docID uuid.UUID) (*types.Document, error) {
	doc, err := s.documents.GetByID(ctx, nil, docID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, pkgerrors.ErrForbidden
	}
	return doc, nil
}

func (s *documentService) List(ctx context.Context, userID uuid.UUID, filter repos.DocumentListFilter) ([]*types.Document, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.documents.GetByUserID(ctx, nil, userID, filter)
}

func (s *documentService) Update(ctx context.Context, userID, docID uuid.UUID, req UpdateDocumentRequest) (*types.Document, error) {
	old, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, err
	}

	updated := *old
	if req.Title != nil {
		updated.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Metadata != nil {
		raw, mErr := json.Marshal(req.Metadata)
		if mErr != nil {
			return nil, fmt.Errorf("%w: metadata not serializable", pkgerrors.ErrInvalidArgument)
		}
		updated.Metadata = raw
	}

	return s.applyUpdate(ctx, old, &updated)
}

func (s *documentService) Archive(ctx context.Context, userID, docID uuid.UUID) (*types.Document, error) {
	old, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	// Only terminal states may be archived.
	if old.Status != types.DocumentStatusCompleted && old.Status != types.DocumentStatusFailed {
		return nil, fmt.Errorf("%w: cannot archive a document in status %q", pkgerrors.ErrInvalidArgument, old.Status)
	}

	updated := *old
	updated.Status = types.DocumentStatusArchived
	return s.applyUpdate(ctx, old, &updated)
}

// applyUpdate runs the lifecycle intent hook, persists the changed fields,
// then runs the committed hook.
func (s *documentService) applyUpdate(ctx context.Context, old, updated *types.Document) (*types.Document, error) {
	s.lifecycle.OnUpdating(ctx, old, updated)

	fields := map[string]any{
		"title":             updated.Title,
		"description":       updated.Description,
		"metadata":          updated.Metadata,
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

func (s *documentService) Delete(ctx context.Context, userID, docID uuid.UUID) error {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return err
	}

	s.lifecycle.OnDeleting(ctx, doc)
	if err := s.documents.SoftDeleteByID(ctx, nil, docID); err != nil {
		return err
	}
	s.lifecycle.OnDeleted(ctx, doc)
	return nil
}

func (s *documentService) Restore(ctx context.Context, userID, docID uuid.UUID) (*types.Document, error) {
	doc, err := s.documents.GetByIDUnscoped(ctx, nil, docID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, pkgerrors.ErrForbidden
	}
	if !doc.DeletedAt.Valid {
		return doc, nil
	}

	if err := s.documents.RestoreByID(ctx, nil, docID); err != nil {
		return nil, err
	}
	doc.DeletedAt = gorm.DeletedAt{}

	// A delete that landed mid-extraction leaves the row in processing with
	// nothing to show for it. Restore sends it back to uploaded so the
	// lifecycle hook re-schedules extraction.
	if doc.Status == types.DocumentStatusProcessing && doc.ExtractedContent == nil {
		if err := s.documents.Updates(ctx, nil, docID, map[string]any{"status": types.DocumentStatusUploaded}); err != nil {
			return nil, err
		}
		doc.Status = types.DocumentStatusUploaded
	}

	s.lifecycle.OnRestored(ctx, doc)
	return doc, nil
}

func (s *documentService) ForceDelete(ctx context.Context, userID, docID uuid.UUID) error {
	doc, err := s.documents.GetByIDUnscoped(ctx, nil, docID)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return pkgerrors.ErrForbidden
	}

	if err := s.documents.FullDeleteByID(ctx, nil, docID); err != nil {
		return err
	}
	s.lifecycle.OnForceDeleted(ctx, doc)
	return nil
}

func (s *documentService) Download(ctx context.Context, userID, docID uuid.UUID) (*types.Document, []byte, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.files.Read(ctx, doc.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}
