package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/bitacora/internal/config"
	"github.com/markdave123-py/bitacora/internal/core"
	"github.com/markdave123-py/bitacora/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}

	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends CA verification to the DATABASE_URL when a certificate
// path is configured.
func buildDSN(databaseURL, sslCertPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for tables

func (c *DatabaseClient) CreateTable(ctx context.Context, t *models.Table) error {
	if t == nil {
		return errors.New("nil table")
	}
	headers, err := encodeCells(t.Headers)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO tables
			(id, user_id, file_name, storage_url, content_type, status, headers, total_rows, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), COALESCE($10, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		t.ID, t.UserID, t.FileName, t.StorageURL, t.ContentType, t.Status, headers, t.TotalRows,
		nullTime(t.CreatedAt), nullTime(t.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetTableByID(ctx context.Context, id string) (*models.Table, error) {
	const q = `
		SELECT id, user_id, file_name, storage_url, content_type, status, headers, total_rows, error_message, created_at, updated_at
		FROM tables
		WHERE id = $1
	`
	t, err := scanTable(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *DatabaseClient) ListTablesByUser(ctx context.Context, userID string) ([]models.Table, error) {
	const q = `
		SELECT id, user_id, file_name, storage_url, content_type, status, headers, total_rows, error_message, created_at, updated_at
		FROM tables
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Table{}
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListTablesByStatus returns tables in any of statuses, oldest first.
func (c *DatabaseClient) ListTablesByStatus(ctx context.Context, statuses ...string) ([]models.Table, error) {
	const q = `
		SELECT id, user_id, file_name, storage_url, content_type, status, headers, total_rows, error_message, created_at, updated_at
		FROM tables
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Table{}
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateTableStatus(ctx context.Context, id string, status string, errMsg string) error {
	const q = `
		UPDATE tables
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errMsg)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

func (c *DatabaseClient) UpdateTableMeta(ctx context.Context, id string, headers []string, total int) error {
	encoded, err := encodeCells(headers)
	if err != nil {
		return err
	}
	const q = `
		UPDATE tables
		SET headers = $2, total_rows = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, encoded, total)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

// Implementing the db interface for table rows

// InsertTableRows inserts rows in a single transaction.
func (c *DatabaseClient) InsertTableRows(ctx context.Context, rows []models.TableRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO table_rows (table_id, position, cells)
		VALUES ($1, $2, $3)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		cells, err := encodeCells(r.Cells)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.TableID, r.Position, cells); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert row %d: %w", r.Position, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteTableRows(ctx context.Context, tableID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM table_rows WHERE table_id = $1`, tableID)
	return err
}

func (c *DatabaseClient) GetTableRows(ctx context.Context, tableID string, offset, limit int) ([]models.TableRow, error) {
	const q = `
		SELECT table_id, position, cells
		FROM table_rows
		WHERE table_id = $1
		ORDER BY position ASC
		OFFSET $2 LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, tableID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.TableRow{}
	for rows.Next() {
		var (
			r     models.TableRow
			cells []byte
		)
		if err := rows.Scan(&r.TableID, &r.Position, &cells); err != nil {
			return nil, err
		}
		if r.Cells, err = decodeCells(cells); err != nil {
			return nil, fmt.Errorf("row %d: %w", r.Position, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTable(s rowScanner) (*models.Table, error) {
	var (
		t       models.Table
		headers []byte
	)
	if err := s.Scan(
		&t.ID, &t.UserID, &t.FileName, &t.StorageURL, &t.ContentType, &t.Status,
		&headers, &t.TotalRows, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	h, err := decodeCells(headers)
	if err != nil {
		return nil, fmt.Errorf("table %s headers: %w", t.ID, err)
	}
	t.Headers = h
	return &t, nil
}

func expectOne(res sql.Result, id string) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("table %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// encodeCells renders a string list as JSON text for a jsonb column.
// jsonb cannot hold U+0000, so NUL characters are dropped from every cell.
func encodeCells(cells []string) (string, error) {
	if cells == nil {
		cells = []string{}
	}
	if slices.ContainsFunc(cells, func(c string) bool { return strings.ContainsRune(c, 0) }) {
		clean := make([]string, len(cells))
		for i, c := range cells {
			clean[i] = strings.ReplaceAll(c, "\x00", "")
		}
		cells = clean
	}
	b, err := json.Marshal(cells)
	if err != nil {
		return "", fmt.Errorf("encode cells: %w", err)
	}
	return string(b), nil
}

func decodeCells(raw []byte) ([]string, error) {
	out := []string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cells: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
