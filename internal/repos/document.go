package repos

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/types"
)

type DocumentListFilter struct {
	Status string
	Limit  int
	Offset int
}

// StatusCount is one row of the per-status aggregate used for dashboard stats.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error)
	// GetByIDUnscoped includes soft-deleted rows; used by restore and purge.
	GetByIDUnscoped(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, filter DocumentListFilter) ([]*types.Document, error)
	GetByContentHash(ctx context.Context, tx *gorm.DB, userID uuid.UUID, hash string) (*types.Document, error)
	Updates(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	RestoreByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CountByStatus(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]StatusCount, error)
	SumSizeByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *documentRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.Document) (*types.Document, error) {
	if err := r.conn(tx).WithContext(ctx).Create(doc).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, pkgerrors.ErrDuplicate
		}
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error) {
	var doc types.Document
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByIDUnscoped(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Document, error) {
	var doc types.Document
	err := r.conn(tx).WithContext(ctx).Unscoped().Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, filter DocumentListFilter) ([]*types.Document, error) {
	q := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID)
	if s := strings.TrimSpace(filter.Status); s != "" {
		q = q.Where("status = ?", s)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var docs []*types.Document
	if err := q.Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) GetByContentHash(ctx context.Context, tx *gorm.DB, userID uuid.UUID, hash string) (*types.Document, error) {
	var doc types.Document
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND content_hash = ?", userID, hash).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) Updates(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *documentRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Document{}).Error
}

func (r *documentRepo) RestoreByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Unscoped().
		Model(&types.Document{}).
		Where("id = ?", id).
		Update("deleted_at", nil).Error
}

func (r *documentRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Unscoped().
		Where("id = ?", id).
		Delete(&types.Document{}).Error
}

func (r *documentRepo) CountByStatus(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Document{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *documentRepo) SumSizeByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Document{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx wraps SQLSTATE 23505 in the error text; gorm does not always map it.
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}
