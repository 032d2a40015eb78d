package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/types"
)

type SimplificationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, s *types.Simplification) (*types.Simplification, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Simplification, error)
	GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.Simplification, error)
	GetByShareToken(ctx context.Context, tx *gorm.DB, token string) (*types.Simplification, error)
	Updates(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	// IncrementDownloadCount bumps the counter and stamps last_downloaded_at
	// in a single statement so concurrent downloads do not lose counts.
	IncrementDownloadCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	ListPublic(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Simplification, error)
}

type simplificationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSimplificationRepo(db *gorm.DB, baseLog *logger.Logger) SimplificationRepo {
	return &simplificationRepo{db: db, log: baseLog.With("repo", "SimplificationRepo")}
}

func (r *simplificationRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *simplificationRepo) Create(ctx context.Context, tx *gorm.DB, s *types.Simplification) (*types.Simplification, error) {
	if err := r.conn(tx).WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *simplificationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Simplification, error) {
	var s types.Simplification
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *simplificationRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.Simplification, error) {
	var results []*types.Simplification
	err := r.conn(tx).WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *simplificationRepo) GetByShareToken(ctx context.Context, tx *gorm.DB, token string) (*types.Simplification, error) {
	var s types.Simplification
	err := r.conn(tx).WithContext(ctx).
		Where("share_token = ? AND is_public = true", token).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *simplificationRepo) Updates(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.Simplification{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *simplificationRepo) IncrementDownloadCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Simplification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"download_count":     gorm.Expr("download_count + 1"),
			"last_downloaded_at": at,
		}).Error
}

func (r *simplificationRepo) ListPublic(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Simplification, error) {
	q := r.conn(tx).WithContext(ctx).Where("is_public = true")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var results []*types.Simplification
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
