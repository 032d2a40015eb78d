package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/types"
)

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// fakeCache is an in-memory Cache with TTLs evaluated against the injected
// clock, so window expiry can be tested without sleeping.
type fakeCache struct {
	mu      sync.Mutex
	clock   *fakeClock
	entries map[string]cacheEntry
}

func newFakeCache(clock *fakeClock) *fakeCache {
	return &fakeCache{clock: clock, entries: map[string]cacheEntry{}}
}

func (f *fakeCache) live(key string) (cacheEntry, bool) {
	e, ok := f.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !e.expiresAt.IsZero() && !f.clock.Now().Before(e.expiresAt) {
		delete(f.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (f *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (f *fakeCache) Put(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = f.clock.Now().Add(ttl)
	}
	f.entries[key] = e
	return nil
}

func (f *fakeCache) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *fakeCache) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	e, ok := f.live(key)
	if ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	next := cacheEntry{value: strconv.FormatInt(n, 10)}
	if ok {
		next.expiresAt = e.expiresAt
	} else if ttl > 0 {
		next.expiresAt = f.clock.Now().Add(ttl)
	}
	f.entries[key] = next
	return n, nil
}

func (f *fakeCache) Close() error { return nil }

func (f *fakeCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live(key)
	return ok
}

type fakeStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{}}
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[key]
	return ok, nil
}

func (f *fakeStore) Read(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[key]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeStore) Write(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[key]; !ok {
		return pkgerrors.ErrNotFound
	}
	delete(f.files, key)
	f.deletes++
	return nil
}

type dispatchedJob struct {
	job   Job
	delay time.Duration
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []dispatchedJob
}

func (f *fakeDispatcher) Dispatch(_ context.Context, job Job, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, dispatchedJob{job: job, delay: delay})
	return nil
}

func (f *fakeDispatcher) ofKind(kind string) []dispatchedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispatchedJob
	for _, j := range f.jobs {
		if j.job.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

type fakeStats struct {
	mu          sync.Mutex
	invalidates int
	refreshes   int
}

func (f *fakeStats) Get(context.Context, uuid.UUID) (*UserStats, error) { return &UserStats{}, nil }

func (f *fakeStats) Refresh(context.Context, uuid.UUID) (*UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return &UserStats{}, nil
}

func (f *fakeStats) Invalidate(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidates++
	return nil
}

type recordedEvent struct {
	userID  uuid.UUID
	name    string
	payload map[string]any
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeAnalytics) Record(_ context.Context, userID uuid.UUID, name string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{userID: userID, name: name, payload: payload})
}

func (f *fakeAnalytics) Enabled() bool { return true }

func (f *fakeAnalytics) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.name == name {
			n++
		}
	}
	return n
}

type lifecycleFixture struct {
	lm        *LifecycleManager
	clock     *fakeClock
	cache     *fakeCache
	store     *fakeStore
	dispatch  *fakeDispatcher
	stats     *fakeStats
	analytics *fakeAnalytics
}

func newLifecycleFixture(cfg LifecycleConfig) *lifecycleFixture {
	clock := newFakeClock()
	cache := newFakeCache(clock)
	store := newFakeStore()
	dispatch := &fakeDispatcher{}
	stats := &fakeStats{}
	analytics := &fakeAnalytics{}

	lm := NewLifecycleManager(logger.NewNop(), cache, store, dispatch, stats, analytics, cfg)
	lm.now = clock.Now
	return &lifecycleFixture{
		lm:        lm,
		clock:     clock,
		cache:     cache,
		store:     store,
		dispatch:  dispatch,
		stats:     stats,
		analytics: analytics,
	}
}

func testDocument(status string) *types.Document {
	return &types.Document{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		OriginalName: "Report.pdf",
		StorageKey:   "documents/u/report.pdf",
		MimeType:     "application/pdf",
		SizeBytes:    1234,
		Status:       status,
	}
}

// ---- tests ----

func TestOnCreatingHashesStoredFile(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{})
	data := []byte("the raw document bytes")
	_ = fx.store.Write(context.Background(), "documents/u/report.pdf", bytes.NewReader(data))

	doc := testDocument(types.DocumentStatusUploaded)
	fx.lm.OnCreating(context.Background(), doc)

	if doc.ContentHash == nil {
		t.Fatalf("expected content hash to be set")
	}
	sum := sha256.Sum256(data)
	if want := hex.EncodeToString(sum[:]); *doc.ContentHash != want {
		t.Fatalf("content hash = %s, want %s", *doc.ContentHash, want)
	}
}

func TestOnCreatingUnreadableFileSkipsHash(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{})
	doc := testDocument(types.DocumentStatusUploaded)
	doc.StorageKey = "documents/u/missing.pdf"

	fx.lm.OnCreating(context.Background(), doc)

	if doc.ContentHash != nil {
		t.Fatalf("expected no content hash for unreadable file, got %s", *doc.ContentHash)
	}
}

func TestOnCreatingDerivesTitleFromFilename(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{})

	tests := []struct {
		name     string
		original string
		title    string
		want     string
	}{
		{"pdf stem", "Report.pdf", "", "Report"},
		{"no extension", "notes", "", "notes"},
		{"existing title kept", "Report.pdf", "My Title", "My Title"},
		{"dotted name", "q3.final.docx", "", "q3.final"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := testDocument(types.DocumentStatusUploaded)
			doc.OriginalName = tc.original
			doc.Title = tc.title
			fx.lm.OnCreating(context.Background(), doc)
			if doc.Title != tc.want {
				t.Fatalf("title = %q, want %q", doc.Title, tc.want)
			}
		})
	}
}

func TestOnCreatedDispatchesDelayedExtract(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{ExtractDispatchDelay: 5 * time.Second})
	doc := testDocument(types.DocumentStatusUploaded)

	fx.lm.OnCreated(context.Background(), doc)

	jobs := fx.dispatch.ofKind(JobDocumentExtract)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 extract job, got %d", len(jobs))
	}
	if jobs[0].delay != 5*time.Second {
		t.Fatalf("extract delay = %s, want 5s", jobs[0].delay)
	}
	if jobs[0].job.DocumentID != doc.ID {
		t.Fatalf("extract job targets %s, want %s", jobs[0].job.DocumentID, doc.ID)
	}
}

func TestProcessedAtSetExactlyOnce(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{})
	ctx := context.Background()

	old := testDocument(types.DocumentStatusProcessing)
	updated := *old
	updated.Status = types.DocumentStatusCompleted

	fx.lm.OnUpdating(ctx, old, &updated)
	if updated.ProcessedAt == nil {
		t.Fatalf("expected processed_at on first completion")
	}
	first := *updated.ProcessedAt

	fx.clock.Advance(2 * time.Hour)

	// completed -> failed -> completed again must keep the original stamp.
	failed := updated
	failed.Status = types.DocumentStatusFailed
	fx.lm.OnUpdating(ctx, &updated, &failed)

	again := failed
	again.Status = types.DocumentStatusCompleted
	fx.lm.OnUpdating(ctx, &failed, &again)

	if again.ProcessedAt == nil || !again.ProcessedAt.Equal(first) {
		t.Fatalf("processed_at changed on re-completion: %v, want %v", again.ProcessedAt, first)
	}
}

func TestContentHashImmutableOnUpdate(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{})
	hash := "abc123"
	old := testDocument(types.DocumentStatusCompleted)
	old.ContentHash = &hash

	other := "different"
	updated := *old
	updated.ContentHash = &other

	fx.lm.OnUpdating(context.Background(), old, &updated)
	if *updated.ContentHash != hash {
		t.Fatalf("content hash overwritten: %s", *updated.ContentHash)
	}
}

func TestFailureCounterAlertAndWindowReset(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{FailureAlertThreshold: 5})
	ctx := context.Background()
	userID := uuid.New()

	fail := func() {
		old := testDocument(types.DocumentStatusProcessing)
		old.UserID = userID
		updated := *old
		updated.Status = types.DocumentStatusFailed
		fx.lm.OnUpdated(ctx, old, &updated)
	}

	for i := 0; i < 4; i++ {
		fail()
	}
	if got := fx.analytics.count("user.failure_alert"); got != 0 {
		t.Fatalf("alert fired early, count = %d", got)
	}

	fail()
	if got := fx.analytics.count("user.failure_alert"); got != 1 {
		t.Fatalf("expected exactly 1 alert after 5 failures, got %d", got)
	}

	key := failureCounterKey(userID, fx.clock.Now())
	raw, ok, _ := fx.cache.Get(ctx, key)
	if !ok || raw != "5" {
		t.Fatalf("failure counter = %q (present=%v), want 5", raw, ok)
	}

	// A new hour means a new key and an expired old window.
	fx.clock.Advance(61 * time.Minute)
	fail()
	newKey := failureCounterKey(userID, fx.clock.Now())
	raw, ok, _ = fx.cache.Get(ctx, newKey)
	if !ok || raw != "1" {
		t.Fatalf("counter after window reset = %q, want 1", raw)
	}
	if fx.cache.has(key) {
		t.Fatalf("old window counter should have expired")
	}
}

func TestDeleteSchedulesOneDelayedCleanup(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{CleanupDelay: 10 * time.Minute})
	ctx := context.Background()

	doc := testDocument(types.DocumentStatusCompleted)
	_ = fx.store.Write(ctx, doc.StorageKey, bytes.NewReader([]byte("bytes")))

	fx.lm.OnDeleting(ctx, doc)
	fx.lm.OnDeleted(ctx, doc)

	jobs := fx.dispatch.ofKind(JobFileCleanup)
	if len(jobs) != 1 {
		t.Fatalf("expected exactly 1 cleanup job, got %d", len(jobs))
	}
	if jobs[0].delay != 10*time.Minute {
		t.Fatalf("cleanup delay = %s, want 10m", jobs[0].delay)
	}
	if exists, _ := fx.store.Exists(ctx, doc.StorageKey); !exists {
		t.Fatalf("file must not be deleted synchronously on soft delete")
	}
	if !fx.lm.IsCancelled(ctx, doc.ID) {
		t.Fatalf("expected advisory cancel flag after delete")
	}
}

func TestForceDeleteRemovesFileAndCacheKeys(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{})
	ctx := context.Background()

	doc := testDocument(types.DocumentStatusProcessing)
	_ = fx.store.Write(ctx, doc.StorageKey, bytes.NewReader([]byte("bytes")))
	_ = fx.cache.Put(ctx, docCacheKey(doc.ID), "cached", 0)
	_ = fx.cache.Put(ctx, processingStartKey(doc.ID), "123", 0)
	_ = fx.cache.Put(ctx, cancelFlagKey(doc.ID), "1", 0)

	fx.lm.OnForceDeleted(ctx, doc)

	if exists, _ := fx.store.Exists(ctx, doc.StorageKey); exists {
		t.Fatalf("expected synchronous file deletion")
	}
	for _, key := range []string{docCacheKey(doc.ID), processingStartKey(doc.ID), cancelFlagKey(doc.ID)} {
		if fx.cache.has(key) {
			t.Fatalf("residual cache entry %s after force delete", key)
		}
	}
}

func TestRestoreRedispatchesExtractOnlyWhenUnprocessed(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		content   *string
		wantRerun bool
	}{
		{"uploaded without content", types.DocumentStatusUploaded, nil, true},
		{"completed", types.DocumentStatusCompleted, ptr("text"), false},
		{"uploaded with content", types.DocumentStatusUploaded, ptr("text"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newLifecycleFixture(LifecycleConfig{})
			doc := testDocument(tc.status)
			doc.ExtractedContent = tc.content

			fx.lm.OnRestored(context.Background(), doc)

			got := len(fx.dispatch.ofKind(JobDocumentExtract))
			want := 0
			if tc.wantRerun {
				want = 1
			}
			if got != want {
				t.Fatalf("extract jobs = %d, want %d", got, want)
			}
		})
	}
}

func TestEndToEndProcessingBookkeeping(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{TrackProcessingMetrics: true})
	ctx := context.Background()

	doc := testDocument(types.DocumentStatusUploaded)
	fx.lm.OnCreated(ctx, doc)

	// uploaded -> processing writes the start marker.
	processing := *doc
	processing.Status = types.DocumentStatusProcessing
	fx.lm.OnUpdating(ctx, doc, &processing)
	fx.lm.OnUpdated(ctx, doc, &processing)
	if !fx.cache.has(processingStartKey(doc.ID)) {
		t.Fatalf("expected processing start marker")
	}

	fx.clock.Advance(3 * time.Second)

	// processing -> completed with extracted content.
	completed := processing
	completed.Status = types.DocumentStatusCompleted
	completed.ExtractedContent = ptr("hello world")
	fx.lm.OnUpdating(ctx, &processing, &completed)

	if completed.ProcessedAt == nil {
		t.Fatalf("expected processed_at on completion")
	}
	var stats types.ContentStatsPayload
	if err := json.Unmarshal(completed.ContentStats, &stats); err != nil {
		t.Fatalf("content stats not valid json: %v", err)
	}
	if stats.WordCount != 2 {
		t.Fatalf("word_count = %d, want 2", stats.WordCount)
	}

	fx.lm.OnUpdated(ctx, &processing, &completed)

	if fx.cache.has(processingStartKey(doc.ID)) {
		t.Fatalf("start marker should be cleared after completion")
	}

	raw, ok, _ := fx.cache.Get(ctx, metricsBucketKey(fx.clock.Now()))
	if !ok {
		t.Fatalf("expected a processing metric in the hour bucket")
	}
	var bucket []ProcessingMetric
	if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
		t.Fatalf("metrics bucket not valid json: %v", err)
	}
	if len(bucket) != 1 {
		t.Fatalf("metrics bucket entries = %d, want 1", len(bucket))
	}
	if !bucket[0].Success {
		t.Fatalf("expected success=true metric")
	}
	if bucket[0].ElapsedSeconds != 3 {
		t.Fatalf("elapsed = %v, want 3", bucket[0].ElapsedSeconds)
	}
}

func TestArchiveSchedulesRetentionCleanup(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{ArchiveRetentionDays: 30})
	ctx := context.Background()

	old := testDocument(types.DocumentStatusCompleted)
	updated := *old
	updated.Status = types.DocumentStatusArchived
	fx.lm.OnUpdated(ctx, old, &updated)

	jobs := fx.dispatch.ofKind(JobFileCleanup)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 cleanup job, got %d", len(jobs))
	}
	if want := 30 * 24 * time.Hour; jobs[0].delay != want {
		t.Fatalf("retention delay = %s, want %s", jobs[0].delay, want)
	}
}

func TestFailedTransitionDispatchesNotificationWhenEnabled(t *testing.T) {
	fx := newLifecycleFixture(LifecycleConfig{EmailNotificationsEnabled: true})
	ctx := context.Background()

	old := testDocument(types.DocumentStatusProcessing)
	updated := *old
	updated.Status = types.DocumentStatusFailed
	updated.ProcessingError = ptr("boom")
	fx.lm.OnUpdated(ctx, old, &updated)

	jobs := fx.dispatch.ofKind(JobNotificationSend)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 notification job, got %d", len(jobs))
	}
	if jobs[0].job.Payload != "failure:boom" {
		t.Fatalf("payload = %q, want failure:boom", jobs[0].job.Payload)
	}
}

func ptr(s string) *string { return &s }
