package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/storage"
)

// signedDownloadTTL bounds how long a shared file link stays valid.
const signedDownloadTTL = 15 * time.Minute

// FileService fronts the configured blob store and issues signed download
// URLs for shared listings.
type FileService struct {
	store  storage.FileStorage
	tokens *TokenService
	logger *slog.Logger
}

// NewFileService creates a new FileService.
func NewFileService(store storage.FileStorage, tokens *TokenService) *FileService {
	return &FileService{
		store:  store,
		tokens: tokens,
		logger: slog.With("component", "file_service"),
	}
}

// Upload validates and stores a new file.
func (s *FileService) Upload(ctx context.Context, data []byte, input storage.UploadInput) (*models.FileInfo, error) {
	if input.Filename == "" {
		return nil, NewValidationError("filename", "filename is required")
	}
	if len(data) == 0 {
		return nil, NewValidationError("file", "file content is empty")
	}

	info, err := s.store.Upload(ctx, data, input)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	return info, nil
}

// Download returns the blob and metadata for a stored file.
func (s *FileService) Download(ctx context.Context, fileID string) ([]byte, *models.FileInfo, error) {
	if fileID == "" {
		return nil, nil, NewValidationError("file_id", "file_id is required")
	}

	data, info, err := s.store.Download(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("download file: %w", err)
	}
	return data, info, nil
}

// GetInfo returns the metadata for a stored file.
func (s *FileService) GetInfo(ctx context.Context, fileID string) (*models.FileInfo, error) {
	info, err := s.store.GetInfo(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file info: %w", err)
	}
	return info, nil
}

// Delete removes a stored file.
func (s *FileService) Delete(ctx context.Context, fileID string) error {
	if fileID == "" {
		return NewValidationError("file_id", "file_id is required")
	}

	if err := s.store.Delete(ctx, fileID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// SignedDownloadURL returns a time-limited download path for a file.
func (s *FileService) SignedDownloadURL(fileID string) string {
	return s.tokens.SignURL("/api/v1/files/"+fileID, signedDownloadTTL)
}

// WithSignedURLs returns a copy of the listing where every entry with a
// file ID carries a signed download URL. Used for shared-session views
// where the caller has no credentials of their own.
func (s *FileService) WithSignedURLs(files []*models.FileInfo) []*models.FileInfo {
	out := make([]*models.FileInfo, 0, len(files))
	for _, f := range files {
		c := *f
		if c.FileID != "" {
			c.URL = s.SignedDownloadURL(c.FileID)
		}
		out = append(out, &c)
	}
	return out
}
