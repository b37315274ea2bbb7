package models

import (
	"time"
)

// Table status values.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Table represents an uploaded table document and its ingestion state.
type Table struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	FileName     string    `db:"file_name" json:"file_name"`
	StorageURL   string    `db:"storage_url" json:"storage_url"` // S3 URL of the raw document
	ContentType  string    `db:"content_type" json:"content_type"`
	Status       string    `db:"status" json:"status"` // uploaded | processing | ready | failed
	Headers      []string  `db:"headers" json:"headers"`
	TotalRows    int       `db:"total_rows" json:"total_rows"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// TableRow is one persisted row of a table.
type TableRow struct {
	TableID  string   `db:"table_id" json:"table_id"`
	Position int      `db:"position" json:"position"`
	Cells    []string `db:"cells" json:"cells"`
}
