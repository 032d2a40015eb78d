package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/types"
)

type UserEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, event *types.UserEvent) (*types.UserEvent, error)
}

type userEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserEventRepo(db *gorm.DB, baseLog *logger.Logger) UserEventRepo {
	return &userEventRepo{db: db, log: baseLog.With("repo", "UserEventRepo")}
}

func (r *userEventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.UserEvent) (*types.UserEvent, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	if err := conn.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}
