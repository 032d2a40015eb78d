package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/services"
	"github.com/whiskertales/backend/internal/types"
)

// Activities bundles the worker-side dependencies. One instance is
// registered per worker process.
type Activities struct {
	Log             *logger.Logger
	Documents       repos.DocumentRepo
	Files           services.FileService
	Extraction      services.ExtractionService
	Simplifications services.SimplificationService
	Notifier        services.NotifierService
}

func (a *Activities) ExtractDocument(ctx context.Context, job services.Job) error {
	return a.Extraction.Run(ctx, job.DocumentID)
}

func (a *Activities) GenerateSimplification(ctx context.Context, job services.Job) error {
	return a.Simplifications.Generate(ctx, job.TargetID)
}

// CleanupFile removes the stored bytes once the grace period passed. A
// document restored in the meantime keeps its file.
func (a *Activities) CleanupFile(ctx context.Context, job services.Job) error {
	if strings.TrimSpace(job.StorageKey) == "" {
		return nil
	}

	doc, err := a.Documents.GetByIDUnscoped(ctx, nil, job.DocumentID)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		// Row force-deleted already; the file may still linger.
	case err != nil:
		return err
	default:
		if !doc.DeletedAt.Valid && doc.Status != types.DocumentStatusArchived {
			a.Log.Info("Cleanup skipped, document active again", "document_id", job.DocumentID)
			return nil
		}
	}

	exists, err := a.Files.Exists(ctx, job.StorageKey)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := a.Files.Delete(ctx, job.StorageKey); err != nil {
		return err
	}
	a.Log.Info("Stored file cleaned up", "document_id", job.DocumentID, "key", job.StorageKey)
	return nil
}

func (a *Activities) SendNotification(ctx context.Context, job services.Job) error {
	succeeded := true
	detail := ""
	if payload := strings.TrimSpace(job.Payload); strings.HasPrefix(payload, "failure:") {
		succeeded = false
		detail = strings.TrimPrefix(payload, "failure:")
	}
	err := a.Notifier.SendProcessingOutcome(ctx, job.UserID, job.DocumentID, succeeded, detail)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		// User or document gone; nothing left to notify about.
		return nil
	}
	return err
}
