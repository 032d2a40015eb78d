package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cache key builders. All lifecycle state that crosses requests lives under
// these keys; nothing here is a source of truth.

func docScopeKey(docID uuid.UUID, suffix string) string {
	return fmt.Sprintf("doc:%s:%s", docID, suffix)
}

func userStatsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:stats", userID)
}

func processingStartKey(docID uuid.UUID) string {
	return docScopeKey(docID, "processing_started")
}

func cancelFlagKey(docID uuid.UUID) string {
	return docScopeKey(docID, "cancelled")
}

func docCacheKey(docID uuid.UUID) string {
	return docScopeKey(docID, "record")
}

// failureCounterKey buckets per-user failures by hour so the counter rolls
// over naturally with the TTL window.
func failureCounterKey(userID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("user:%s:failures:%s", userID, at.UTC().Format("2006-01-02-15"))
}

// metricsBucketKey is the hour-bucketed processing metrics accumulator.
func metricsBucketKey(at time.Time) string {
	return fmt.Sprintf("metrics:processing:%s", at.UTC().Format("2006-01-02-15"))
}
