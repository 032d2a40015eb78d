package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/types"
)

// memDocumentRepo backs service tests with an in-memory DocumentRepo.
type memDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.Document
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{docs: map[uuid.UUID]*types.Document{}}
}

func (r *memDocumentRepo) put(doc *types.Document) *types.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return doc
}

func (r *memDocumentRepo) Create(_ context.Context, _ *gorm.DB, doc *types.Document) (*types.Document, error) {
	r.mu.Lock()
	// The (user_id, content_hash) index is not partial, so soft-deleted
	// rows still hold their hash.
	if doc.ContentHash != nil {
		for _, other := range r.docs {
			if other.UserID == doc.UserID && other.ContentHash != nil && *other.ContentHash == *doc.ContentHash {
				r.mu.Unlock()
				return nil, pkgerrors.ErrDuplicate
			}
		}
	}
	r.mu.Unlock()
	return r.put(doc), nil
}

func (r *memDocumentRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.DeletedAt.Valid {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *memDocumentRepo) GetByIDUnscoped(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *memDocumentRepo) GetByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID, filter repos.DocumentListFilter) ([]*types.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Document
	for _, doc := range r.docs {
		if doc.UserID != userID || doc.DeletedAt.Valid {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memDocumentRepo) GetByContentHash(_ context.Context, _ *gorm.DB, userID uuid.UUID, hash string) (*types.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.UserID == userID && !doc.DeletedAt.Valid && doc.ContentHash != nil && *doc.ContentHash == hash {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (r *memDocumentRepo) Updates(_ context.Context, _ *gorm.DB, id uuid.UUID, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	for col, val := range fields {
		switch col {
		case "title":
			doc.Title = val.(string)
		case "description":
			doc.Description = val.(string)
		case "status":
			doc.Status = val.(string)
		case "metadata":
			if v, ok := val.(datatypes.JSON); ok {
				doc.Metadata = v
			}
		case "processing_error":
			doc.ProcessingError, _ = val.(*string)
		case "processed_at":
			doc.ProcessedAt, _ = val.(*time.Time)
		case "extracted_content":
			doc.ExtractedContent, _ = val.(*string)
		case "content_stats":
			if v, ok := val.(datatypes.JSON); ok {
				doc.ContentStats = v
			}
		}
	}
	return nil
}

func (r *memDocumentRepo) SoftDeleteByID(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	doc.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	return nil
}

func (r *memDocumentRepo) RestoreByID(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	doc.DeletedAt = gorm.DeletedAt{}
	return nil
}

func (r *memDocumentRepo) FullDeleteByID(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *memDocumentRepo) CountByStatus(_ context.Context, _ *gorm.DB, userID uuid.UUID) ([]repos.StatusCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, doc := range r.docs {
		if doc.UserID == userID && !doc.DeletedAt.Valid {
			counts[doc.Status]++
		}
	}
	var out []repos.StatusCount
	for status, n := range counts {
		out = append(out, repos.StatusCount{Status: status, Count: n})
	}
	return out, nil
}

func (r *memDocumentRepo) SumSizeByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, doc := range r.docs {
		if doc.UserID == userID && !doc.DeletedAt.Valid {
			total += doc.SizeBytes
		}
	}
	return total, nil
}

type memSimplificationRepo struct {
	mu   sync.Mutex
	sims map[uuid.UUID]*types.Simplification
}

func newMemSimplificationRepo() *memSimplificationRepo {
	return &memSimplificationRepo{sims: map[uuid.UUID]*types.Simplification{}}
}

func (r *memSimplificationRepo) Create(_ context.Context, _ *gorm.DB, s *types.Simplification) (*types.Simplification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	r.sims[s.ID] = &cp
	return s, nil
}

func (r *memSimplificationRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Simplification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sims[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSimplificationRepo) GetByDocumentID(_ context.Context, _ *gorm.DB, documentID uuid.UUID) ([]*types.Simplification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Simplification
	for _, s := range r.sims {
		if s.DocumentID == documentID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSimplificationRepo) GetByShareToken(_ context.Context, _ *gorm.DB, token string) (*types.Simplification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sims {
		if s.IsPublic && s.ShareToken != nil && *s.ShareToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (r *memSimplificationRepo) Updates(_ context.Context, _ *gorm.DB, id uuid.UUID, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sims[id]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	for col, val := range fields {
		switch col {
		case "status":
			s.Status = val.(string)
		case "error":
			if val == nil {
				s.Error = nil
			} else if v, ok := val.(string); ok {
				s.Error = &v
			}
		case "generated_title":
			s.GeneratedTitle = val.(string)
		case "story":
			if v, ok := val.(string); ok {
				s.Story = &v
			}
		case "summary":
			s.Summary = val.(string)
		case "key_concepts":
			if v, ok := val.(datatypes.JSON); ok {
				s.KeyConcepts = v
			}
		case "tokens_used":
			s.TokensUsed = val.(int)
		case "cost_usd":
			s.CostUSD = val.(float64)
		case "elapsed_seconds":
			s.ElapsedSeconds = val.(float64)
		case "favorite":
			s.Favorite = val.(bool)
		case "rating":
			if v, ok := val.(int); ok {
				s.Rating = &v
			}
		case "feedback_notes":
			s.FeedbackNotes = val.(string)
		case "is_public":
			s.IsPublic = val.(bool)
		case "share_token":
			if v, ok := val.(string); ok {
				s.ShareToken = &v
			}
		}
	}
	return nil
}

func (r *memSimplificationRepo) IncrementDownloadCount(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sims[id]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	s.DownloadCount++
	s.LastDownloadedAt = &at
	return nil
}

func (r *memSimplificationRepo) ListPublic(_ context.Context, _ *gorm.DB, limit, offset int) ([]*types.Simplification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Simplification
	for _, s := range r.sims {
		if s.IsPublic {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
