package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/markdave123-py/bitacora/internal/api/middlewares"
	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/models"
	"github.com/markdave123-py/bitacora/internal/services"
	"github.com/markdave123-py/bitacora/internal/testutil"
)

type recordingIngestor struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingIngestor) Start(context.Context, int) {}

func (r *recordingIngestor) Enqueue(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingIngestor) ProcessOne(context.Context, string) error { return nil }

func (r *recordingIngestor) Requeue(context.Context) (int, error) { return 0, nil }

type tableFixture struct {
	db       *testutil.FakeDB
	objects  *testutil.FakeObjects
	svc      *services.TableService
	ingestor *recordingIngestor
	router   http.Handler
}

// newTableFixture mounts the table routes behind a stub auth that trusts X-User.
func newTableFixture(t *testing.T) *tableFixture {
	t.Helper()

	f := &tableFixture{
		db:       testutil.NewFakeDB(),
		objects:  testutil.NewFakeObjects(),
		ingestor: &recordingIngestor{},
	}
	f.svc = services.NewTableService(f.db, f.objects, "bucket")
	h := NewTableHandler(f.svc, f.ingestor, streaming.NewCoordinator(0, nil), 1<<20)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if u := req.Header.Get("X-User"); u != "" {
				req = req.WithContext(middleware.WithUserID(req.Context(), u))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/tables/upload", h.UploadTable)
	r.Get("/tables", h.ListTables)
	r.Get("/tables/{id}", h.GetTable)
	r.Get("/tables/{id}/stream", h.StreamTable)
	r.Get("/tables/{id}/rows", h.GetRows)
	f.router = r
	return f
}

func (f *tableFixture) do(t *testing.T, req *http.Request, user string) *httptest.ResponseRecorder {
	t.Helper()
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *tableFixture) seed(t *testing.T, user, raw string) *models.Table {
	t.Helper()
	table, err := f.svc.UploadAndCreate(context.Background(), user, "t.json", "application/json", strings.NewReader(raw))
	require.NoError(t, err)
	return table
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/tables/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadTable(t *testing.T) {
	f := newTableFixture(t)

	rec := f.do(t, uploadRequest(t, "sales 2024.json", document(3)), "u1")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var table models.Table
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&table))
	assert.Equal(t, "u1", table.UserID)
	assert.Equal(t, models.StatusUploaded, table.Status)
	assert.Equal(t, "sales 2024.json", table.FileName)

	assert.Equal(t, []string{table.ID}, f.ingestor.ids)
	assert.Contains(t, f.objects.Objects, "bucket/users/u1/tables/"+table.ID+"/sales_2024.json")
}

func TestUploadTableQueueUnavailable(t *testing.T) {
	f := newTableFixture(t)
	f.ingestor.err = context.DeadlineExceeded

	rec := f.do(t, uploadRequest(t, "t.json", document(2)), "u1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	tables, err := f.db.ListTablesByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, models.StatusFailed, tables[0].Status)
	assert.NotEmpty(t, tables[0].ErrorMessage)
}

func TestUploadTableTooLarge(t *testing.T) {
	f := newTableFixture(t)

	rec := f.do(t, uploadRequest(t, "big.json", document(100000)), "u1")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.objects.Objects)
	assert.Empty(t, f.ingestor.ids)
}

func TestUploadTableRequiresUserAndFile(t *testing.T) {
	f := newTableFixture(t)

	rec := f.do(t, uploadRequest(t, "t.json", "{}"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/tables/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec = f.do(t, req, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.ingestor.ids)
}

func TestGetTableOwnership(t *testing.T) {
	f := newTableFixture(t)
	table := f.seed(t, "owner", document(1))

	tests := []struct {
		name   string
		path   string
		user   string
		status int
	}{
		{"owner", "/tables/" + table.ID, "owner", http.StatusOK},
		{"other user", "/tables/" + table.ID, "intruder", http.StatusForbidden},
		{"missing", "/tables/nope", "owner", http.StatusNotFound},
		{"anonymous", "/tables/" + table.ID, "", http.StatusUnauthorized},
		{"rows of other user", "/tables/" + table.ID + "/rows", "intruder", http.StatusForbidden},
		{"stream of missing", "/tables/nope/stream", "owner", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, httptest.NewRequest(http.MethodGet, tc.path, nil), tc.user)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestListTables(t *testing.T) {
	f := newTableFixture(t)
	f.seed(t, "u1", document(1))
	f.seed(t, "u1", document(2))
	f.seed(t, "u2", document(3))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/tables", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)

	var tables []models.Table
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tables))
	assert.Len(t, tables, 2)
	for _, tb := range tables {
		assert.Equal(t, "u1", tb.UserID)
	}
}

func TestStreamTable(t *testing.T) {
	f := newTableFixture(t)
	table := f.seed(t, "u1", document(10))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/tables/"+table.ID+"/stream?chunkSize=4", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := readNDJSON(t, rec.Body.String())
	require.Len(t, msgs, 1+3)
	for _, m := range msgs {
		assert.Equal(t, table.ID, m.ID)
	}
	got := collect(t, msgs)
	assert.Len(t, got.Rows, 10)
	assert.Equal(t, []string{"r9", "9", ""}, got.Rows[9])
}

func TestGetRowsPaging(t *testing.T) {
	f := newTableFixture(t)
	table := f.seed(t, "u1", document(0))

	var rows []models.TableRow
	for i := range 5 {
		rows = append(rows, models.TableRow{TableID: table.ID, Position: i, Cells: []string{string(rune('a' + i))}})
	}
	require.NoError(t, f.db.InsertTableRows(context.Background(), rows))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/tables/"+table.ID+"/rows?offset=1&limit=2", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Offset int               `json:"offset"`
		Limit  int               `json:"limit"`
		Rows   []models.TableRow `json:"rows"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 1, page.Offset)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, []string{"b"}, page.Rows[0].Cells)
	assert.Equal(t, []string{"c"}, page.Rows[1].Cells)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/tables/"+table.ID+"/rows?limit=5000", nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, maxRowLimit, page.Limit)
	assert.Len(t, page.Rows, 5)

	for _, q := range []string{"offset=-1", "limit=0", "limit=x"} {
		rec = f.do(t, httptest.NewRequest(http.MethodGet, "/tables/"+table.ID+"/rows?"+q, nil), "u1")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
