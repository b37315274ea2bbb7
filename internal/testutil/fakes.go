package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/markdave123-py/bitacora/internal/core"
	objectclient "github.com/markdave123-py/bitacora/internal/core/object-client"
	"github.com/markdave123-py/bitacora/internal/models"
)

var (
	_ core.DbClient     = (*FakeDB)(nil)
	_ core.ObjectClient = (*FakeObjects)(nil)
)

// FakeDB is an in-memory core.DbClient.
type FakeDB struct {
	mu        sync.Mutex
	tables    map[string]*models.Table
	rows      map[string][]models.TableRow
	Batches   []int
	FailAfter int // InsertTableRows fails once this many batches were written (0 = never)
}

func NewFakeDB() *FakeDB {
	return &FakeDB{tables: map[string]*models.Table{}, rows: map[string][]models.TableRow{}}
}

func (f *FakeDB) CreateTable(_ context.Context, t *models.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tables[t.ID] = &cp
	return nil
}

func (f *FakeDB) GetTableByID(_ context.Context, id string) (*models.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[id]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, core.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *FakeDB) ListTablesByUser(_ context.Context, userID string) ([]models.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Table{}
	for _, t := range f.tables {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *FakeDB) ListTablesByStatus(_ context.Context, statuses ...string) ([]models.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Table{}
	for _, t := range f.tables {
		if slices.Contains(statuses, t.Status) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (f *FakeDB) UpdateTableStatus(_ context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[id]
	if !ok {
		return core.ErrNotFound
	}
	t.Status, t.ErrorMessage = status, errMsg
	return nil
}

func (f *FakeDB) UpdateTableMeta(_ context.Context, id string, headers []string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[id]
	if !ok {
		return core.ErrNotFound
	}
	t.Headers, t.TotalRows = headers, total
	return nil
}

func (f *FakeDB) InsertTableRows(_ context.Context, rows []models.TableRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAfter > 0 && len(f.Batches) >= f.FailAfter {
		return errors.New("disk full")
	}
	f.Batches = append(f.Batches, len(rows))
	for _, r := range rows {
		f.rows[r.TableID] = append(f.rows[r.TableID], r)
	}
	return nil
}

func (f *FakeDB) DeleteTableRows(_ context.Context, tableID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, tableID)
	return nil
}

func (f *FakeDB) GetTableRows(_ context.Context, tableID string, offset, limit int) ([]models.TableRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := append([]models.TableRow(nil), f.rows[tableID]...)
	sort.Slice(rows, func(a, b int) bool { return rows[a].Position < rows[b].Position })
	if offset >= len(rows) {
		return []models.TableRow{}, nil
	}
	return rows[offset:min(offset+limit, len(rows))], nil
}

func (f *FakeDB) Close() error { return nil }

// FakeObjects is an in-memory core.ObjectClient keyed by "bucket/key".
type FakeObjects struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func (o *FakeObjects) UploadFile(_ context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Objects[bucket+"/"+key] = b
	return objectclient.ObjectURL(bucket, "us-east-2", key), nil
}

func (o *FakeObjects) DeleteFile(_ context.Context, bucket, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.Objects, bucket+"/"+key)
	return nil
}

func (o *FakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.Objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

func NewFakeObjects() *FakeObjects {
	return &FakeObjects{Objects: map[string][]byte{}}
}
