package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/whiskertales/backend/internal/clients/openai"
	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/types"
)

var validComplexities = map[string]bool{
	types.ComplexityBasic:        true,
	types.ComplexityIntermediate: true,
	types.ComplexityAdvanced:     true,
}

type CreateSimplificationRequest struct {
	DocumentID  uuid.UUID
	Complexity  string
	Model       string
	Temperature float64
	MaxTokens   int
}

type FeedbackRequest struct {
	Favorite *bool
	Rating   *int
	Notes    *string
}

// SimplificationService owns the rewrite records: request-side creation and
// feedback, worker-side generation, and public sharing.
type SimplificationService interface {
	Create(ctx context.Context, userID uuid.UUID, req CreateSimplificationRequest) (*types.Simplification, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*types.Simplification, error)
	ListByDocument(ctx context.Context, userID, documentID uuid.UUID) ([]*types.Simplification, error)
	Feedback(ctx context.Context, userID, id uuid.UUID, req FeedbackRequest) (*types.Simplification, error)

	// Share flips the record public and mints a share token on first use.
	Share(ctx context.Context, userID, id uuid.UUID) (*types.Simplification, error)
	Unshare(ctx context.Context, userID, id uuid.UUID) error
	// ResolveShareToken is the unauthenticated read path. Each hit bumps the
	// download counter.
	ResolveShareToken(ctx context.Context, token string) (*types.Simplification, error)
	ListPublic(ctx context.Context, limit, offset int) ([]*types.Simplification, error)

	// Generate runs the simplification_generate job.
	Generate(ctx context.Context, id uuid.UUID) error
}

type simplificationService struct {
	db              *gorm.DB
	log             *logger.Logger
	simplifications repos.SimplificationRepo
	documents       repos.DocumentRepo
	ai              openai.Client
	dispatcher      Dispatcher
	lifecycle       *LifecycleManager
	analytics       AnalyticsService
	defaultModel    string
	now             func() time.Time
}

func NewSimplificationService(
	db *gorm.DB,
	log *logger.Logger,
	simplifications repos.SimplificationRepo,
	documents repos.DocumentRepo,
	ai openai.Client,
	dispatcher Dispatcher,
	lifecycle *LifecycleManager,
	analytics AnalyticsService,
	defaultModel string,
) SimplificationService {
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &simplificationService{
		db:              db,
		log:             log.With("service", "SimplificationService"),
		simplifications: simplifications,
		documents:       documents,
		ai:              ai,
		dispatcher:      dispatcher,
		lifecycle:       lifecycle,
		analytics:       analytics,
		defaultModel:    defaultModel,
		now:             time.Now,
	}
}

func (s *simplificationService) Create(ctx context.Context, userID uuid.UUID, req CreateSimplificationRequest) (*types.Simplification, error) {
	doc, err := s.documents.GetByID(ctx, nil, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, pkgerrors.ErrForbidden
	}
	if doc.Status != types.DocumentStatusCompleted {
		return nil, fmt.Errorf("%w: document must be processed before it can be simplified", pkgerrors.ErrInvalidArgument)
	}
	if doc.ExtractedContent == nil || strings.TrimSpace(*doc.ExtractedContent) == "" {
		return nil, fmt.Errorf("%w: document has no extracted text", pkgerrors.ErrInvalidArgument)
	}

	complexity := strings.ToLower(strings.TrimSpace(req.Complexity))
	if complexity == "" {
		complexity = types.ComplexityBasic
	}
	if !validComplexities[complexity] {
		return nil, fmt.Errorf("%w: unknown complexity %q", pkgerrors.ErrInvalidArgument, req.Complexity)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.defaultModel
	}

	params := map[string]any{}
	if req.Temperature > 0 {
		params["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	rawParams, _ := json.Marshal(params)

	created, err := s.simplifications.Create(ctx, nil, &types.Simplification{
		DocumentID: doc.ID,
		UserID:     userID,
		Model:      model,
		Complexity: complexity,
		Params:     datatypes.JSON(rawParams),
		Status:     types.SimplificationStatusPending,
	})
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, Job{
		Kind:       JobSimplificationGenerate,
		DocumentID: doc.ID,
		TargetID:   created.ID,
		UserID:     userID,
	}, 0); err != nil {
		// The row stays pending; a retry endpoint or operator re-dispatch
		// can pick it up.
		s.log.Error("Generate dispatch failed", "simplification_id", created.ID, "error", err)
	}

	s.analytics.Record(ctx, userID, "simplification.requested", map[string]any{
		"document_id":       doc.ID.String(),
		"simplification_id": created.ID.String(),
		"complexity":        complexity,
		"model":             model,
	})
	return created, nil
}

func (s *simplificationService) Get(ctx context.Context, userID, id uuid.UUID) (*types.Simplification, error) {
	sim, err := s.simplifications.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sim.UserID != userID {
		return nil, pkgerrors.ErrForbidden
	}
	return sim, nil
}

func (s *simplificationService) ListByDocument(ctx context.Context, userID, documentID uuid.UUID) ([]*types.Simplification, error) {
	doc, err := s.documents.GetByID(ctx, nil, documentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, pkgerrors.ErrForbidden
	}
	return s.simplifications.GetByDocumentID(ctx, nil, documentID)
}

func (s *simplificationService) Feedback(ctx context.Context, userID, id uuid.UUID, req FeedbackRequest) (*types.Simplification, error) {
	sim, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if req.Favorite != nil {
		sim.Favorite = *req.Favorite
		fields["favorite"] = *req.Favorite
	}
	if req.Rating != nil {
		if *req.Rating < 1 || *req.Rating > 5 {
			return nil, fmt.Errorf("%w: rating must be between 1 and 5", pkgerrors.ErrInvalidArgument)
		}
		sim.Rating = req.Rating
		fields["rating"] = *req.Rating
	}
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		sim.FeedbackNotes = notes
		fields["feedback_notes"] = notes
	}
	if len(fields) == 0 {
		return sim, nil
	}

	if err := s.simplifications.Updates(ctx, nil, id, fields); err != nil {
		return nil, err
	}
	return sim, nil
}

func (s *simplificationService) Share(ctx context.Context, userID, id uuid.UUID) (*types.Simplification, error) {
	sim, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sim.Status != types.SimplificationStatusCompleted {
		return nil, fmt.Errorf("%w: only completed simplifications can be shared", pkgerrors.ErrInvalidArgument)
	}

	fields := map[string]any{"is_public": true}
	if sim.ShareToken == nil {
		token := uuid.NewString()
		sim.ShareToken = &token
		fields["share_token"] = token
	}
	sim.IsPublic = true

	if err := s.simplifications.Updates(ctx, nil, id, fields); err != nil {
		return nil, err
	}
	s.analytics.Record(ctx, userID, "simplification.shared", map[string]any{
		"simplification_id": id.String(),
	})
	return sim, nil
}

func (s *simplificationService) Unshare(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	// The token is kept so re-sharing revives old links.
	return s.simplifications.Updates(ctx, nil, id, map[string]any{"is_public": false})
}

func (s *simplificationService) ResolveShareToken(ctx context.Context, token string) (*types.Simplification, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.ErrNotFound
	}
	sim, err := s.simplifications.GetByShareToken(ctx, nil, token)
	if err != nil {
		return nil, err
	}
	if err := s.simplifications.IncrementDownloadCount(ctx, nil, sim.ID, s.now().UTC()); err != nil {
		s.log.Warn("Download count bump failed", "simplification_id", sim.ID, "error", err)
	}
	return sim, nil
}

func (s *simplificationService) ListPublic(ctx context.Context, limit, offset int) ([]*types.Simplification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.simplifications.ListPublic(ctx, nil, limit, offset)
}

func (s *simplificationService) Generate(ctx context.Context, id uuid.UUID) error {
	sim, err := s.simplifications.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if sim.Status != types.SimplificationStatusPending && sim.Status != types.SimplificationStatusFailed {
		s.log.Info("Generate skipped, unexpected status", "simplification_id", sim.ID, "status", sim.Status)
		return nil
	}
	if s.lifecycle.IsCancelled(ctx, sim.DocumentID) {
		s.log.Info("Generate skipped, document cancelled", "simplification_id", sim.ID)
		return nil
	}

	doc, err := s.documents.GetByID(ctx, nil, sim.DocumentID)
	if err != nil {
		return err
	}
	if doc.ExtractedContent == nil {
		return s.markFailed(ctx, sim.ID, "document has no extracted text")
	}

	if err := s.simplifications.Updates(ctx, nil, sim.ID, map[string]any{
		"status": types.SimplificationStatusProcessing,
		"error":  nil,
	}); err != nil {
		return err
	}

	var params struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}
	if len(sim.Params) > 0 {
		if err := json.Unmarshal(sim.Params, &params); err != nil {
			s.log.Warn("Params not parseable, using defaults", "simplification_id", sim.ID, "error", err)
		}
	}

	result, genErr := s.ai.GenerateStory(ctx, openai.StoryRequest{
		Model:       sim.Model,
		Complexity:  sim.Complexity,
		SourceText:  *doc.ExtractedContent,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if genErr != nil {
		return s.markFailed(ctx, sim.ID, genErr.Error())
	}

	concepts, _ := json.Marshal(result.KeyConcepts)
	fields := map[string]any{
		"status":          types.SimplificationStatusCompleted,
		"error":           nil,
		"generated_title": result.Title,
		"story":           result.Story,
		"summary":         result.Summary,
		"key_concepts":    datatypes.JSON(concepts),
		"tokens_used":     result.TokensUsed,
		"cost_usd":        result.CostUSD,
		"elapsed_seconds": result.ElapsedSeconds,
	}
	if err := s.simplifications.Updates(ctx, nil, sim.ID, fields); err != nil {
		return err
	}

	s.analytics.Record(ctx, sim.UserID, "simplification.completed", map[string]any{
		"simplification_id": sim.ID.String(),
		"tokens_used":       result.TokensUsed,
		"cost_usd":          result.CostUSD,
	})
	return nil
}

func (s *simplificationService) markFailed(ctx context.Context, id uuid.UUID, detail string) error {
	if err := s.simplifications.Updates(ctx, nil, id, map[string]any{
		"status": types.SimplificationStatusFailed,
		"error":  detail,
	}); err != nil {
		return err
	}
	// The returned error lets the queue retry transient generation failures.
	return fmt.Errorf("generate simplification %s: %s", id, detail)
}
