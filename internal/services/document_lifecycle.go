package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/whiskertales/backend/internal/clients/gcp"
	redisclient "github.com/whiskertales/backend/internal/clients/redis"
	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/types"
)

// LifecycleConfig is the read-only flag surface the lifecycle manager
// consults. Loaded from the environment at wiring time.
type LifecycleConfig struct {
	TrackProcessingMetrics    bool
	EmailNotificationsEnabled bool
	ArchiveRetentionDays      int
	CleanupDelay              time.Duration
	ExtractDispatchDelay      time.Duration
	FailureAlertThreshold     int
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if c.ArchiveRetentionDays <= 0 {
		c.ArchiveRetentionDays = 90
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = 10 * time.Minute
	}
	if c.ExtractDispatchDelay <= 0 {
		c.ExtractDispatchDelay = 5 * time.Second
	}
	if c.FailureAlertThreshold <= 0 {
		c.FailureAlertThreshold = 5
	}
	return c
}

// ProcessingMetric is one entry of the hour-bucketed batch accumulator kept
// in the cache. Approximate telemetry, not a source of truth: concurrent
// completions in the same hour may lose entries to the read-modify-write.
type ProcessingMetric struct {
	DocumentID     uuid.UUID `json:"document_id"`
	FileType       string    `json:"file_type"`
	SizeBytes      int64     `json:"size_bytes"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Success        bool      `json:"success"`
	RecordedAt     time.Time `json:"recorded_at"`
}

const (
	processingStartTTL = time.Hour
	cancelFlagTTL      = time.Hour
	metricsBucketTTL   = 24 * time.Hour
	failureWindowTTL   = time.Hour
)

// LifecycleManager reacts to document state changes with derived-field
// computation, cache bookkeeping, and side-effect scheduling so that no
// caller has to remember these steps. The persistence owner invokes the
// intent hooks before writing and the committed hooks after.
//
// Every cache and dispatch operation here is best-effort: a failure is
// logged and never propagated into the state mutation it annotates.
type LifecycleManager struct {
	log        *logger.Logger
	cache      redisclient.Cache
	store      gcp.FileStore
	dispatcher Dispatcher
	stats      StatsService
	analytics  AnalyticsService
	cfg        LifecycleConfig
	now        func() time.Time
}

func NewLifecycleManager(
	log *logger.Logger,
	cache redisclient.Cache,
	store gcp.FileStore,
	dispatcher Dispatcher,
	stats StatsService,
	analytics AnalyticsService,
	cfg LifecycleConfig,
) *LifecycleManager {
	return &LifecycleManager{
		log:        log.With("service", "LifecycleManager"),
		cache:      cache,
		store:      store,
		dispatcher: dispatcher,
		stats:      stats,
		analytics:  analytics,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
}

// OnCreating fills derived fields before the document row is written.
func (m *LifecycleManager) OnCreating(ctx context.Context, doc *types.Document) {
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = titleFromFilename(doc.OriginalName)
	}
	if doc.ContentHash == nil || strings.TrimSpace(*doc.ContentHash) == "" {
		if hash, ok := m.hashStoredFile(ctx, doc.StorageKey); ok {
			doc.ContentHash = &hash
		}
	}
}

// OnCreated runs after the creating transaction committed.
func (m *LifecycleManager) OnCreated(ctx context.Context, doc *types.Document) {
	m.forgetOwnerStats(ctx, doc.UserID)

	if doc.Status == types.DocumentStatusUploaded {
		// Delayed so the extraction worker cannot race the commit we just
		// followed; the delay shrinks the race, it does not eliminate it.
		m.dispatch(ctx, Job{
			Kind:       JobDocumentExtract,
			DocumentID: doc.ID,
			StorageKey: doc.StorageKey,
			UserID:     doc.UserID,
		}, m.cfg.ExtractDispatchDelay)
	}

	m.refreshOwnerStats(ctx, doc.UserID)
	m.analytics.Record(ctx, doc.UserID, "document.created", map[string]any{
		"document_id": doc.ID.String(),
		"mime_type":   doc.MimeType,
		"size_bytes":  doc.SizeBytes,
	})
}

// OnUpdating applies intent-side derived mutations to new before it is
// persisted. old is the last committed state.
func (m *LifecycleManager) OnUpdating(ctx context.Context, old, updated *types.Document) {
	// Content hash is immutable once set.
	if old.ContentHash != nil {
		updated.ContentHash = old.ContentHash
	}
	// processed_at is set at most once, on the first completion.
	if old.ProcessedAt != nil {
		updated.ProcessedAt = old.ProcessedAt
	}

	if old.Status != updated.Status {
		switch updated.Status {
		case types.DocumentStatusProcessing:
			updated.ProcessingError = nil
			m.putCache(ctx, processingStartKey(updated.ID), strconv.FormatInt(m.now().UTC().Unix(), 10), processingStartTTL)
		case types.DocumentStatusCompleted:
			if updated.ProcessedAt == nil {
				t := m.now().UTC()
				updated.ProcessedAt = &t
			}
		}
	}

	if updated.ExtractedContent != nil && len(updated.ContentStats) == 0 {
		stats := ComputeContentStats(*updated.ExtractedContent)
		if raw, err := json.Marshal(stats); err == nil {
			updated.ContentStats = datatypes.JSON(raw)
		}
	}
}

// OnUpdated runs after the updating transaction committed.
func (m *LifecycleManager) OnUpdated(ctx context.Context, old, updated *types.Document) {
	m.forgetCache(ctx, docCacheKey(updated.ID))
	m.forgetOwnerStats(ctx, updated.UserID)

	statusChanged := old.Status != updated.Status
	if statusChanged {
		switch updated.Status {
		case types.DocumentStatusCompleted:
			m.completeBookkeeping(ctx, updated, true, "")
		case types.DocumentStatusFailed:
			detail := ""
			if updated.ProcessingError != nil {
				detail = *updated.ProcessingError
			}
			m.completeBookkeeping(ctx, updated, false, detail)
			m.bumpFailureCounter(ctx, updated)
		case types.DocumentStatusArchived:
			retention := time.Duration(m.cfg.ArchiveRetentionDays) * 24 * time.Hour
			m.dispatch(ctx, Job{
				Kind:       JobFileCleanup,
				DocumentID: updated.ID,
				StorageKey: updated.StorageKey,
				UserID:     updated.UserID,
			}, retention)
		}
	}

	if statusChanged || old.SizeBytes != updated.SizeBytes {
		m.refreshOwnerStats(ctx, updated.UserID)
	}

	if statusChanged {
		m.analytics.Record(ctx, updated.UserID, "document.status_changed", map[string]any{
			"document_id": updated.ID.String(),
			"from":        old.Status,
			"to":          updated.Status,
		})
	}
}

// OnDeleting runs before a soft delete is persisted.
func (m *LifecycleManager) OnDeleting(ctx context.Context, doc *types.Document) {
	// Advisory only: cooperating workers poll this flag, nothing is
	// forcibly interrupted.
	m.putCache(ctx, cancelFlagKey(doc.ID), "1", cancelFlagTTL)

	// Physical cleanup is delayed to outlast the enclosing transaction and
	// any in-flight readers.
	m.dispatch(ctx, Job{
		Kind:       JobFileCleanup,
		DocumentID: doc.ID,
		StorageKey: doc.StorageKey,
		UserID:     doc.UserID,
	}, m.cfg.CleanupDelay)
}

// OnDeleted runs after the soft delete committed.
func (m *LifecycleManager) OnDeleted(ctx context.Context, doc *types.Document) {
	m.forgetCache(ctx, docCacheKey(doc.ID))
	m.forgetOwnerStats(ctx, doc.UserID)
	m.refreshOwnerStats(ctx, doc.UserID)
	m.analytics.Record(ctx, doc.UserID, "document.deleted", map[string]any{
		"document_id": doc.ID.String(),
	})
}

// OnForceDeleted removes the physical file synchronously and clears every
// document-scoped cache entry.
func (m *LifecycleManager) OnForceDeleted(ctx context.Context, doc *types.Document) {
	if doc.StorageKey != "" {
		exists, err := m.store.Exists(ctx, doc.StorageKey)
		if err != nil {
			m.log.Warn("Force delete could not stat file", "document_id", doc.ID, "error", err)
		} else if exists {
			if err := m.store.Delete(ctx, doc.StorageKey); err != nil {
				m.log.Error("Force delete could not remove file", "document_id", doc.ID, "key", doc.StorageKey, "error", err)
			}
		}
	}
	m.forgetCache(ctx, docCacheKey(doc.ID))
	m.forgetCache(ctx, processingStartKey(doc.ID))
	m.forgetCache(ctx, cancelFlagKey(doc.ID))
	m.forgetOwnerStats(ctx, doc.UserID)
}

// OnRestored runs after a soft-deleted document is brought back. The
// advisory cancel flag from the delete is withdrawn so re-dispatched work
// is not skipped.
func (m *LifecycleManager) OnRestored(ctx context.Context, doc *types.Document) {
	m.forgetCache(ctx, docCacheKey(doc.ID))
	m.forgetCache(ctx, cancelFlagKey(doc.ID))
	m.forgetOwnerStats(ctx, doc.UserID)
	m.refreshOwnerStats(ctx, doc.UserID)

	if doc.Status == types.DocumentStatusUploaded && doc.ExtractedContent == nil {
		m.dispatch(ctx, Job{
			Kind:       JobDocumentExtract,
			DocumentID: doc.ID,
			StorageKey: doc.StorageKey,
			UserID:     doc.UserID,
		}, m.cfg.ExtractDispatchDelay)
	}
}

// IsCancelled reports the advisory cancel flag set by OnDeleting. Workers
// consult it between stages.
func (m *LifecycleManager) IsCancelled(ctx context.Context, docID uuid.UUID) bool {
	_, ok, err := m.cache.Get(ctx, cancelFlagKey(docID))
	if err != nil {
		m.log.Warn("Cancel flag read failed", "document_id", docID, "error", err)
		return false
	}
	return ok
}

// shouldAutoSimplify gates automatic creation of a default simplification
// when a document completes. Intentionally disabled until the product call
// on default complexity and model is made.
func (m *LifecycleManager) shouldAutoSimplify(doc *types.Document) bool {
	return false
}

// ---- internals ----

func (m *LifecycleManager) completeBookkeeping(ctx context.Context, doc *types.Document, success bool, detail string) {
	elapsed := m.readAndClearStartMarker(ctx, doc.ID)

	if m.cfg.TrackProcessingMetrics {
		m.appendProcessingMetric(ctx, ProcessingMetric{
			DocumentID:     doc.ID,
			FileType:       doc.MimeType,
			SizeBytes:      doc.SizeBytes,
			ElapsedSeconds: elapsed,
			Success:        success,
			RecordedAt:     m.now().UTC(),
		})
	}

	if m.cfg.EmailNotificationsEnabled {
		payload := "success"
		if !success {
			payload = "failure:" + detail
		}
		m.dispatch(ctx, Job{
			Kind:       JobNotificationSend,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			Payload:    payload,
		}, 0)
	}

	if success && m.shouldAutoSimplify(doc) {
		m.dispatch(ctx, Job{
			Kind:       JobSimplificationGenerate,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
		}, 0)
	}
}

// readAndClearStartMarker returns elapsed processing seconds, 0 when the
// marker expired or was never written.
func (m *LifecycleManager) readAndClearStartMarker(ctx context.Context, docID uuid.UUID) float64 {
	key := processingStartKey(docID)
	raw, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		m.log.Warn("Start marker read failed", "document_id", docID, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	m.forgetCache(ctx, key)

	startedUnix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.log.Warn("Start marker not parseable", "document_id", docID, "raw", raw)
		return 0
	}
	elapsed := m.now().UTC().Sub(time.Unix(startedUnix, 0).UTC()).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// appendProcessingMetric does a read-modify-write on the hourly bucket.
// Two non-atomic cache operations: concurrent writers can lose entries,
// accepted for approximate telemetry.
func (m *LifecycleManager) appendProcessingMetric(ctx context.Context, metric ProcessingMetric) {
	key := metricsBucketKey(m.now())
	var bucket []ProcessingMetric
	if _, err := redisclient.GetJSON(ctx, m.cache, key, &bucket); err != nil {
		m.log.Warn("Metrics bucket read failed", "key", key, "error", err)
		return
	}
	bucket = append(bucket, metric)
	if err := redisclient.PutJSON(ctx, m.cache, key, bucket, metricsBucketTTL); err != nil {
		m.log.Warn("Metrics bucket write failed", "key", key, "error", err)
	}
}

func (m *LifecycleManager) bumpFailureCounter(ctx context.Context, doc *types.Document) {
	key := failureCounterKey(doc.UserID, m.now())
	count, err := m.cache.Increment(ctx, key, failureWindowTTL)
	if err != nil {
		m.log.Warn("Failure counter increment failed", "user_id", doc.UserID, "error", err)
		return
	}
	if count >= int64(m.cfg.FailureAlertThreshold) {
		m.log.Warn("User failure threshold reached",
			"user_id", doc.UserID,
			"failures_this_hour", count,
		)
		m.analytics.Record(ctx, doc.UserID, "user.failure_alert", map[string]any{
			"failures_this_hour": count,
		})
	}
}

func (m *LifecycleManager) hashStoredFile(ctx context.Context, key string) (string, bool) {
	if strings.TrimSpace(key) == "" {
		return "", false
	}
	data, err := m.store.Read(ctx, key)
	if err != nil {
		// Non-fatal: the file may not be persisted yet.
		m.log.Warn("Content hash skipped, file not readable", "key", key, "error", err)
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

func (m *LifecycleManager) dispatch(ctx context.Context, job Job, delay time.Duration) {
	if err := m.dispatcher.Dispatch(ctx, job, delay); err != nil {
		m.log.Error("Job dispatch failed", "kind", job.Kind, "document_id", job.DocumentID, "error", err)
	}
}

func (m *LifecycleManager) putCache(ctx context.Context, key, value string, ttl time.Duration) {
	if err := m.cache.Put(ctx, key, value, ttl); err != nil {
		m.log.Warn("Cache write failed", "key", key, "error", err)
	}
}

func (m *LifecycleManager) forgetCache(ctx context.Context, key string) {
	if err := m.cache.Forget(ctx, key); err != nil {
		m.log.Warn("Cache forget failed", "key", key, "error", err)
	}
}

func (m *LifecycleManager) forgetOwnerStats(ctx context.Context, userID uuid.UUID) {
	if err := m.stats.Invalidate(ctx, userID); err != nil {
		m.log.Warn("Stats invalidate failed", "user_id", userID, "error", err)
	}
}

func (m *LifecycleManager) refreshOwnerStats(ctx context.Context, userID uuid.UUID) {
	if _, err := m.stats.Refresh(ctx, userID); err != nil {
		m.log.Warn("Stats refresh failed", "user_id", userID, "error", err)
	}
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
