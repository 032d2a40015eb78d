package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/whiskertales/backend/internal/clients/gcp"
	"github.com/whiskertales/backend/internal/logger"
)

// FileService owns storage key layout and collision-resistant stored names.
type FileService interface {
	// Store writes the upload and returns (storedName, storageKey).
	Store(ctx context.Context, userID uuid.UUID, originalName string, data io.Reader) (string, string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type fileService struct {
	log   *logger.Logger
	store gcp.FileStore
}

func NewFileService(log *logger.Logger, store gcp.FileStore) FileService {
	return &fileService{log: log.With("service", "FileService"), store: store}
}

func (s *fileService) Store(ctx context.Context, userID uuid.UUID, originalName string, data io.Reader) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	storedName := uuid.NewString() + ext
	key := fmt.Sprintf("documents/%s/%s", userID, storedName)

	if err := s.store.Write(ctx, key, data); err != nil {
		return "", "", fmt.Errorf("store upload %s: %w", originalName, err)
	}
	return storedName, key, nil
}

func (s *fileService) Read(ctx context.Context, key string) ([]byte, error) {
	return s.store.Read(ctx, key)
}

func (s *fileService) Exists(ctx context.Context, key string) (bool, error) {
	return s.store.Exists(ctx, key)
}

func (s *fileService) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
