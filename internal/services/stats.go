package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclient "github.com/whiskertales/backend/internal/clients/redis"
	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/repos"
)

const userStatsTTL = 5 * time.Minute

// UserStats is the cached dashboard aggregate for one owner.
type UserStats struct {
	TotalDocuments int64            `json:"total_documents"`
	ByStatus       map[string]int64 `json:"by_status"`
	TotalBytes     int64            `json:"total_bytes"`
	ComputedAt     time.Time        `json:"computed_at"`
}

type StatsService interface {
	// Get returns cached stats, recomputing on miss.
	Get(ctx context.Context, userID uuid.UUID) (*UserStats, error)
	// Refresh recomputes and caches; errors are returned but callers on the
	// lifecycle path treat them as best-effort.
	Refresh(ctx context.Context, userID uuid.UUID) (*UserStats, error)
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type statsService struct {
	db        *gorm.DB
	log       *logger.Logger
	documents repos.DocumentRepo
	cache     redisclient.Cache
	now       func() time.Time
}

func NewStatsService(db *gorm.DB, log *logger.Logger, documents repos.DocumentRepo, cache redisclient.Cache) StatsService {
	return &statsService{
		db:        db,
		log:       log.With("service", "StatsService"),
		documents: documents,
		cache:     cache,
		now:       time.Now,
	}
}

func (s *statsService) Get(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	var cached UserStats
	ok, err := redisclient.GetJSON(ctx, s.cache, userStatsKey(userID), &cached)
	if err != nil {
		s.log.Warn("Stats cache read failed", "user_id", userID, "error", err)
	}
	if ok {
		return &cached, nil
	}
	return s.Refresh(ctx, userID)
}

func (s *statsService) Refresh(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	counts, err := s.documents.CountByStatus(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	totalBytes, err := s.documents.SumSizeByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	stats := &UserStats{
		ByStatus:   make(map[string]int64, len(counts)),
		TotalBytes: totalBytes,
		ComputedAt: s.now().UTC(),
	}
	for _, row := range counts {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalDocuments += row.Count
	}

	if err := redisclient.PutJSON(ctx, s.cache, userStatsKey(userID), stats, userStatsTTL); err != nil {
		s.log.Warn("Stats cache write failed", "user_id", userID, "error", err)
	}
	return stats, nil
}

func (s *statsService) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return s.cache.Forget(ctx, userStatsKey(userID))
}
