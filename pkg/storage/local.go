package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/steadyops/steward/pkg/models"
)

// LocalStorage keeps blobs on the local filesystem, one file per file ID,
// and metadata rows in the embedded SQLite store.
type LocalStorage struct {
	db       *sql.DB
	basePath string
	logger   *slog.Logger
}

// NewLocalStorage creates the storage directory if needed and returns a
// filesystem-backed store.
func NewLocalStorage(db *sql.DB, basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{
		db:       db,
		basePath: basePath,
		logger:   slog.With("component", "local_storage"),
	}, nil
}

// Upload writes the blob to disk and records its metadata.
func (s *LocalStorage) Upload(ctx context.Context, data []byte, input UploadInput) (*models.FileInfo, error) {
	info := &models.FileInfo{
		FileID:      models.NewFileID(),
		Filename:    input.Filename,
		FilePath:    input.FilePath,
		Size:        int64(len(data)),
		ContentType: input.ContentType,
		UploadDate:  time.Now().UTC(),
		UserID:      input.UserID,
		Metadata:    input.Metadata,
	}

	blobPath := s.blobPath(info.FileID)
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}

	if err := s.insertInfo(ctx, info); err != nil {
		// Keep disk and table consistent when the metadata write fails.
		_ = os.Remove(blobPath)
		return nil, err
	}

	s.logger.Info("File uploaded", "file_id", info.FileID, "filename", info.Filename, "size", info.Size)
	return info, nil
}

// Download reads the blob and its metadata.
func (s *LocalStorage) Download(ctx context.Context, fileID string) ([]byte, *models.FileInfo, error) {
	info, err := s.GetInfo(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(s.blobPath(fileID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("read blob: %w", err)
	}
	return data, info, nil
}

// GetInfo returns the metadata row for a file.
func (s *LocalStorage) GetInfo(ctx context.Context, fileID string) (*models.FileInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT file_id, filename, file_path, size, content_type, upload_date, user_id, metadata
		 FROM files WHERE file_id = ?`, fileID)

	var (
		info     models.FileInfo
		filePath sql.NullString
		ctype    sql.NullString
		userID   sql.NullString
		metaJSON string
	)
	err := row.Scan(&info.FileID, &info.Filename, &filePath, &info.Size, &ctype, &info.UploadDate, &userID, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file info: %w", err)
	}

	info.FilePath = filePath.String
	info.ContentType = ctype.String
	info.UserID = userID.String
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &info.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal file metadata: %w", err)
		}
	}
	return &info, nil
}

// Delete removes the metadata row and the blob.
func (s *LocalStorage) Delete(ctx context.Context, fileID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete file info: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file info: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := os.Remove(s.blobPath(fileID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}

	s.logger.Info("File deleted", "file_id", fileID)
	return nil
}

// Close is a no-op; the SQLite handle is owned by the caller.
func (s *LocalStorage) Close(ctx context.Context) error {
	return nil
}

func (s *LocalStorage) insertInfo(ctx context.Context, info *models.FileInfo) error {
	metaJSON, err := json.Marshal(orEmptyMeta(info.Metadata))
	if err != nil {
		return fmt.Errorf("marshal file metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (file_id, filename, file_path, size, content_type, upload_date, user_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.FileID, info.Filename, info.FilePath, info.Size, info.ContentType,
		info.UploadDate, info.UserID, string(metaJSON))
	if err != nil {
		return fmt.Errorf("insert file info: %w", err)
	}
	return nil
}

func (s *LocalStorage) blobPath(fileID string) string {
	return filepath.Join(s.basePath, fileID)
}

func orEmptyMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
