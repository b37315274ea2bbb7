package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/bitacora/internal/core"
	objectclient "github.com/markdave123-py/bitacora/internal/core/object-client"
	"github.com/markdave123-py/bitacora/internal/models"
)

// ErrForbidden is returned when a user asks for a table they do not own.
var ErrForbidden = errors.New("forbidden")

type TableService struct {
	db      core.DbClient
	storage core.ObjectClient
	bucket  string
}

func NewTableService(db core.DbClient, storage core.ObjectClient, bucket string) *TableService {
	return &TableService{db: db, storage: storage, bucket: bucket}
}

// UploadAndCreate stores the raw document and records it as uploaded.
func (s *TableService) UploadAndCreate(ctx context.Context, userID, filename, contentType string, data io.Reader) (*models.Table, error) {
	tableID := uuid.NewString()
	key := s.objectKey(userID, tableID, filename)

	url, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	table := &models.Table{
		ID:          tableID,
		UserID:      userID,
		FileName:    filename,
		StorageURL:  url,
		ContentType: contentType,
		Status:      models.StatusUploaded,
		Headers:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateTable(ctx, table); err != nil {
		_ = s.storage.DeleteFile(ctx, s.bucket, key)
		return nil, fmt.Errorf("store table metadata: %w", err)
	}
	return table, nil
}

// GetOwned returns the table when userID owns it.
func (s *TableService) GetOwned(ctx context.Context, userID, tableID string) (*models.Table, error) {
	t, err := s.db.GetTableByID(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

func (s *TableService) ListByUser(ctx context.Context, userID string) ([]models.Table, error) {
	return s.db.ListTablesByUser(ctx, userID)
}

// MarkFailed records that a table will not be ingested.
func (s *TableService) MarkFailed(ctx context.Context, tableID, reason string) error {
	return s.db.UpdateTableStatus(ctx, tableID, models.StatusFailed, reason)
}

// Raw loads the stored document of an owned table.
func (s *TableService) Raw(ctx context.Context, userID, tableID string) ([]byte, error) {
	t, err := s.GetOwned(ctx, userID, tableID)
	if err != nil {
		return nil, err
	}
	bucket, key := objectclient.ParseObjectURL(t.StorageURL)
	return s.storage.GetFile(ctx, bucket, key)
}

// Rows pages through the rows persisted by ingestion.
func (s *TableService) Rows(ctx context.Context, userID, tableID string, offset, limit int) ([]models.TableRow, error) {
	if _, err := s.GetOwned(ctx, userID, tableID); err != nil {
		return nil, err
	}
	return s.db.GetTableRows(ctx, tableID, offset, limit)
}

// objectKey creates a consistent S3 key layout.
func (s *TableService) objectKey(userID, tableID, filename string) string {
	filename = strings.TrimSpace(path.Base(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "" || filename == "." || filename == "/" {
		filename = "table.json"
	}
	return path.Join("users", userID, "tables", tableID, filename)
}
