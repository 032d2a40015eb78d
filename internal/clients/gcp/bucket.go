package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/whiskertales/backend/internal/logger"
	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
)

// FileStore is the durable byte storage collaborator, addressed by key.
type FileStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data io.Reader) error
	Delete(ctx context.Context, key string) error
}

type bucketStore struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

func NewBucketStore(log *logger.Logger) (FileStore, error) {
	storeLog := log.With("client", "BucketStore")

	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	var opts []option.ClientOption
	if saPath := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); saPath != "" {
		opts = append(opts, option.WithCredentialsFile(saPath))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))

	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &bucketStore{
		log:           storeLog,
		storageClient: stClient,
		bucketName:    bucket,
	}, nil
}

func (bs *bucketStore) object(key string) *storage.ObjectHandle {
	return bs.storageClient.Bucket(bs.bucketName).Object(key)
}

func (bs *bucketStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := bs.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gcs object %s: %w", key, err)
	}
	return true, nil
}

func (bs *bucketStore) Read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := bs.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", key, err)
	}
	return data, nil
}

func (bs *bucketStore) Write(ctx context.Context, key string, data io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.object(key).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gcs object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gcs writer for %s: %w", key, err)
	}
	return nil
}

func (bs *bucketStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := bs.object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return pkgerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete gcs object %s: %w", key, err)
	}
	return nil
}
