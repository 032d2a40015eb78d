package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/google/uuid"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
	"github.com/whiskertales/backend/internal/types"
)

type documentFixture struct {
	*lifecycleFixture
	repo *memDocumentRepo
	svc  DocumentService
}

func newDocumentFixture(maxBytes int64) *documentFixture {
	fx := newLifecycleFixture(LifecycleConfig{})
	repo := newMemDocumentRepo()
	files := NewFileService(logger.NewNop(), fx.store)
	svc := NewDocumentService(nil, logger.NewNop(), repo, files, fx.lm, maxBytes)
	return &documentFixture{lifecycleFixture: fx, repo: repo, svc: svc}
}

func uploadHeader(t *testing.T, filename, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = w.Close()

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	return form.File["file"][0]
}

func TestUploadStoresFileAndDispatchesExtract(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()
	userID := uuid.New()

	doc, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "Quarterly Report.txt", "", []byte("hello world")),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Status != types.DocumentStatusUploaded {
		t.Fatalf("status = %s, want uploaded", doc.Status)
	}
	if doc.ContentHash == nil {
		t.Fatalf("content hash not set")
	}
	if doc.Title != "Quarterly Report" {
		t.Fatalf("title = %q, want derived from filename", doc.Title)
	}
	if doc.MimeType != "text/plain" {
		t.Fatalf("mime = %q, want fallback text/plain", doc.MimeType)
	}

	stored, err := fx.store.Read(ctx, doc.StorageKey)
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(stored) != "hello world" {
		t.Fatalf("stored bytes = %q", stored)
	}

	if jobs := fx.dispatch.ofKind(JobDocumentExtract); len(jobs) != 1 {
		t.Fatalf("expected 1 extract job, got %d", len(jobs))
	}
}

func TestUploadRejectsUnsupportedAndOversized(t *testing.T) {
	fx := newDocumentFixture(16)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "payload.exe", "", []byte("x")),
	}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("unsupported type: err = %v", err)
	}

	if _, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "big.txt", "", bytes.Repeat([]byte("a"), 17)),
	}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("oversized file: err = %v", err)
	}

	if _, err := fx.svc.Upload(ctx, UploadRequest{UserID: userID}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("missing file: err = %v", err)
	}
}

func TestUploadDetectsDuplicateContent(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()
	userID := uuid.New()
	data := []byte("same bytes both times")

	first, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "one.txt", "", data),
	})
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}

	existing, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "two.txt", "", data),
	})
	if !errors.Is(err, pkgerrors.ErrDuplicate) {
		t.Fatalf("duplicate upload: err = %v", err)
	}
	if existing == nil || existing.ID != first.ID {
		t.Fatalf("duplicate should return the original document")
	}

	// A different user uploading the same bytes is not a duplicate.
	if _, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: uuid.New(),
		File:   uploadHeader(t, "three.txt", "", data),
	}); err != nil {
		t.Fatalf("other user's upload: %v", err)
	}
}

func TestUploadCleansUpFileWhenCreateFails(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()
	userID := uuid.New()
	data := []byte("bytes behind a soft-deleted row")

	first, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "keep.txt", "", data),
	})
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	if err := fx.repo.SoftDeleteByID(ctx, nil, first.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	// The deleted row is invisible to the pre-insert hash lookup but still
	// holds the unique index entry, so the insert itself collides.
	if _, err := fx.svc.Upload(ctx, UploadRequest{
		UserID: userID,
		File:   uploadHeader(t, "again.txt", "", data),
	}); !errors.Is(err, pkgerrors.ErrDuplicate) {
		t.Fatalf("re-upload of deleted bytes: err = %v, want ErrDuplicate", err)
	}

	if n := fx.store.count(); n != 1 {
		t.Fatalf("store holds %d objects, want only the original", n)
	}
}

func TestRestoreResetsStalledProcessing(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()
	userID := uuid.New()

	doc := testDocument(types.DocumentStatusProcessing)
	doc.UserID = userID
	fx.repo.put(doc)

	if err := fx.svc.Delete(ctx, userID, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !fx.lm.IsCancelled(ctx, doc.ID) {
		t.Fatalf("delete should raise the cancel flag")
	}

	restored, err := fx.svc.Restore(ctx, userID, doc.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Status != types.DocumentStatusUploaded {
		t.Fatalf("status = %s, want uploaded", restored.Status)
	}
	got, _ := fx.repo.GetByID(ctx, nil, doc.ID)
	if got.Status != types.DocumentStatusUploaded {
		t.Fatalf("persisted status = %s, want uploaded", got.Status)
	}
	if jobs := fx.dispatch.ofKind(JobDocumentExtract); len(jobs) != 1 {
		t.Fatalf("expected 1 re-dispatched extract job, got %d", len(jobs))
	}
	if fx.lm.IsCancelled(ctx, doc.ID) {
		t.Fatalf("restore should withdraw the cancel flag")
	}
}

func TestArchiveRequiresTerminalStatus(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		status string
		wantOK bool
	}{
		{types.DocumentStatusUploaded, false},
		{types.DocumentStatusProcessing, false},
		{types.DocumentStatusCompleted, true},
		{types.DocumentStatusFailed, true},
		{types.DocumentStatusArchived, false},
	}
	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			doc := testDocument(tc.status)
			doc.UserID = userID
			fx.repo.put(doc)

			_, err := fx.svc.Archive(ctx, userID, doc.ID)
			if tc.wantOK && err != nil {
				t.Fatalf("Archive: %v", err)
			}
			if !tc.wantOK && !errors.Is(err, pkgerrors.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestDeleteRestoreRoundTrip(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()
	userID := uuid.New()

	doc := testDocument(types.DocumentStatusCompleted)
	doc.UserID = userID
	fx.repo.put(doc)

	if err := fx.svc.Delete(ctx, userID, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fx.svc.Get(ctx, userID, doc.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("deleted document still visible: err = %v", err)
	}

	restored, err := fx.svc.Restore(ctx, userID, doc.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.DeletedAt.Valid {
		t.Fatalf("restore left the delete mark")
	}
	if _, err := fx.svc.Get(ctx, userID, doc.ID); err != nil {
		t.Fatalf("restored document not visible: %v", err)
	}

	// Restoring a live document is a no-op.
	if _, err := fx.svc.Restore(ctx, userID, doc.ID); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
}

func TestOwnershipChecks(t *testing.T) {
	fx := newDocumentFixture(0)
	ctx := context.Background()

	doc := testDocument(types.DocumentStatusCompleted)
	fx.repo.put(doc)
	stranger := uuid.New()

	if _, err := fx.svc.Get(ctx, stranger, doc.ID); !errors.Is(err, pkgerrors.ErrForbidden) {
		t.Fatalf("Get: err = %v", err)
	}
	if err := fx.svc.Delete(ctx, stranger, doc.ID); !errors.Is(err, pkgerrors.ErrForbidden) {
		t.Fatalf("Delete: err = %v", err)
	}
	if err := fx.svc.ForceDelete(ctx, stranger, doc.ID); !errors.Is(err, pkgerrors.ErrForbidden) {
		t.Fatalf("ForceDelete: err = %v", err)
	}
}
