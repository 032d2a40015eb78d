package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/types"
)

// AnalyticsService records best-effort product events. Failures are logged
// and swallowed: analytics must never block a state mutation.
type AnalyticsService interface {
	Record(ctx context.Context, userID uuid.UUID, name string, payload map[string]any)
	Enabled() bool
}

type analyticsService struct {
	db        *gorm.DB
	log       *logger.Logger
	events    repos.UserEventRepo
	enabled   bool
	anonymize bool
}

func NewAnalyticsService(db *gorm.DB, log *logger.Logger, events repos.UserEventRepo, enabled, anonymize bool) AnalyticsService {
	return &analyticsService{
		db:        db,
		log:       log.With("service", "AnalyticsService"),
		events:    events,
		enabled:   enabled,
		anonymize: anonymize,
	}
}

func (s *analyticsService) Enabled() bool { return s.enabled }

func (s *analyticsService) Record(ctx context.Context, userID uuid.UUID, name string, payload map[string]any) {
	if !s.enabled {
		return
	}

	event := &types.UserEvent{Name: name}
	if !s.anonymize && userID != uuid.Nil {
		event.UserID = &userID
	}
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.log.Warn("Analytics payload not serializable", "event", name, "error", err)
		} else {
			event.Payload = raw
		}
	}

	if _, err := s.events.Create(ctx, nil, event); err != nil {
		s.log.Warn("Analytics event not recorded", "event", name, "error", err)
	}
}
