package storage

import (
	"context"
	"errors"

	"github.com/steadyops/steward/pkg/models"
)

// ErrNotFound indicates the requested file does not exist in the backing store.
var ErrNotFound = errors.New("file not found")

// UploadInput carries the caller-provided metadata for a new file. The
// backend assigns the file ID, size, and upload timestamp.
type UploadInput struct {
	Filename    string
	ContentType string
	FilePath    string
	UserID      string
	Metadata    map[string]any
}

// FileStorage stores uploaded file blobs together with their metadata.
// Implementations generate the file ID on upload and treat it as the sole
// lookup key afterwards.
type FileStorage interface {
	// Upload persists the blob and returns its metadata record.
	Upload(ctx context.Context, data []byte, input UploadInput) (*models.FileInfo, error)

	// Download returns the blob and its metadata.
	Download(ctx context.Context, fileID string) ([]byte, *models.FileInfo, error)

	// GetInfo returns the metadata without reading the blob.
	GetInfo(ctx context.Context, fileID string) (*models.FileInfo, error)

	// Delete removes the blob and its metadata. Deleting a missing file
	// returns ErrNotFound.
	Delete(ctx context.Context, fileID string) error

	// Close releases any backend connections.
	Close(ctx context.Context) error
}
