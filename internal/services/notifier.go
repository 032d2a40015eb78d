package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/clients/sendgrid"
	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/repos"
)

// NotifierService delivers processing outcome emails. It runs inside the
// notification_send job, never inline with a request.
type NotifierService interface {
	SendProcessingOutcome(ctx context.Context, userID, documentID uuid.UUID, succeeded bool, detail string) error
}

type notifierService struct {
	db        *gorm.DB
	log       *logger.Logger
	users     repos.UserRepo
	documents repos.DocumentRepo
	mailer    sendgrid.Client
	enabled   bool
}

func NewNotifierService(db *gorm.DB, log *logger.Logger, users repos.UserRepo, documents repos.DocumentRepo, mailer sendgrid.Client, enabled bool) NotifierService {
	return &notifierService{
		db:        db,
		log:       log.With("service", "NotifierService"),
		users:     users,
		documents: documents,
		mailer:    mailer,
		enabled:   enabled,
	}
}

func (s *notifierService) SendProcessingOutcome(ctx context.Context, userID, documentID uuid.UUID, succeeded bool, detail string) error {
	if !s.enabled || s.mailer == nil {
		s.log.Debug("Email notifications disabled, skipping", "document_id", documentID)
		return nil
	}

	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return fmt.Errorf("notifier: load user: %w", err)
	}
	doc, err := s.documents.GetByIDUnscoped(ctx, nil, documentID)
	if err != nil {
		return fmt.Errorf("notifier: load document: %w", err)
	}

	title := doc.Title
	if title == "" {
		title = doc.OriginalName
	}

	var subject, body string
	if succeeded {
		subject = fmt.Sprintf("\"%s\" is ready", title)
		body = fmt.Sprintf("Good news! We finished reading \"%s\". You can now ask for a cat story rewrite at any complexity level.", title)
	} else {
		subject = fmt.Sprintf("We couldn't process \"%s\"", title)
		body = fmt.Sprintf("Processing \"%s\" failed: %s. The document is still in your library; you can delete it or upload a fresh copy.", title, detail)
	}

	return s.mailer.Send(ctx, sendgrid.Message{
		ToEmail:  user.Email,
		ToName:   user.DisplayName,
		Subject:  subject,
		TextBody: body,
	})
}
