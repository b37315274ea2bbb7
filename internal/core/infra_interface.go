package core

import (
	"context"
	"errors"
	"io"

	"github.com/markdave123-py/bitacora/internal/models"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateTable(ctx context.Context, table *models.Table) error
	GetTableByID(ctx context.Context, id string) (*models.Table, error)
	ListTablesByUser(ctx context.Context, userID string) ([]models.Table, error)
	ListTablesByStatus(ctx context.Context, statuses ...string) ([]models.Table, error)
	UpdateTableStatus(ctx context.Context, id string, status string, errMsg string) error
	UpdateTableMeta(ctx context.Context, id string, headers []string, total int) error

	// InsertTableRows writes one batch of rows in a single transaction.
	InsertTableRows(ctx context.Context, rows []models.TableRow) error
	DeleteTableRows(ctx context.Context, tableID string) error
	GetTableRows(ctx context.Context, tableID string, offset, limit int) ([]models.TableRow, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
