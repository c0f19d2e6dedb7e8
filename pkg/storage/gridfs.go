package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/steadyops/steward/pkg/models"
)

// GridFSStorage keeps blobs in MongoDB GridFS. File IDs are the hex form of
// the GridFS ObjectID; caller metadata lives in the bucket's metadata
// document.
type GridFSStorage struct {
	client *mongo.Client
	bucket *mongo.GridFSBucket
	logger *slog.Logger
}

// gridFSFile mirrors the fields of the fs.files collection we read back.
type gridFSFile struct {
	ID         bson.ObjectID  `bson:"_id"`
	Length     int64          `bson:"length"`
	UploadDate time.Time      `bson:"uploadDate"`
	Filename   string         `bson:"filename"`
	Metadata   map[string]any `bson:"metadata"`
}

// NewGridFSStorage connects to MongoDB and opens the default bucket.
func NewGridFSStorage(ctx context.Context, uri, database string) (*GridFSStorage, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &GridFSStorage{
		client: client,
		bucket: client.Database(database).GridFSBucket(),
		logger: slog.With("component", "gridfs_storage"),
	}, nil
}

// Upload streams the blob into GridFS and returns its metadata record.
func (s *GridFSStorage) Upload(ctx context.Context, data []byte, input UploadInput) (*models.FileInfo, error) {
	meta := map[string]any{}
	for k, v := range input.Metadata {
		meta[k] = v
	}
	meta["user_id"] = input.UserID
	if input.ContentType != "" {
		meta["contentType"] = input.ContentType
	}
	if input.FilePath != "" {
		meta["file_path"] = input.FilePath
	}

	oid, err := s.bucket.UploadFromStream(ctx, input.Filename, bytes.NewReader(data),
		options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return nil, fmt.Errorf("gridfs upload: %w", err)
	}

	info := &models.FileInfo{
		FileID:      oid.Hex(),
		Filename:    input.Filename,
		FilePath:    input.FilePath,
		Size:        int64(len(data)),
		ContentType: input.ContentType,
		UploadDate:  time.Now().UTC(),
		UserID:      input.UserID,
		Metadata:    meta,
	}

	s.logger.Info("File uploaded", "file_id", info.FileID, "filename", info.Filename, "size", info.Size)
	return info, nil
}

// Download reads the blob and its metadata.
func (s *GridFSStorage) Download(ctx context.Context, fileID string) ([]byte, *models.FileInfo, error) {
	oid, err := bson.ObjectIDFromHex(fileID)
	if err != nil {
		return nil, nil, ErrNotFound
	}

	info, err := s.GetInfo(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStream(ctx, oid, &buf); err != nil {
		if errors.Is(err, mongo.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("gridfs download: %w", err)
	}
	return buf.Bytes(), info, nil
}

// GetInfo looks the file up in the bucket's files collection.
func (s *GridFSStorage) GetInfo(ctx context.Context, fileID string) (*models.FileInfo, error) {
	oid, err := bson.ObjectIDFromHex(fileID)
	if err != nil {
		return nil, ErrNotFound
	}

	var file gridFSFile
	err = s.bucket.GetFilesCollection().FindOne(ctx, bson.M{"_id": oid}).Decode(&file)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gridfs file lookup: %w", err)
	}
	return fileInfoFrom(&file), nil
}

// Delete removes the blob and its metadata document.
func (s *GridFSStorage) Delete(ctx context.Context, fileID string) error {
	oid, err := bson.ObjectIDFromHex(fileID)
	if err != nil {
		return ErrNotFound
	}

	if err := s.bucket.Delete(ctx, oid); err != nil {
		if errors.Is(err, mongo.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("gridfs delete: %w", err)
	}

	s.logger.Info("File deleted", "file_id", fileID)
	return nil
}

// Close disconnects the MongoDB client.
func (s *GridFSStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func fileInfoFrom(file *gridFSFile) *models.FileInfo {
	info := &models.FileInfo{
		FileID:     file.ID.Hex(),
		Filename:   file.Filename,
		Size:       file.Length,
		UploadDate: file.UploadDate,
		Metadata:   file.Metadata,
	}
	if ct, ok := file.Metadata["contentType"].(string); ok {
		info.ContentType = ct
	}
	if uid, ok := file.Metadata["user_id"].(string); ok {
		info.UserID = uid
	}
	if fp, ok := file.Metadata["file_path"].(string); ok {
		info.FilePath = fp
	}
	return info
}
