package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/bitacora/internal/api/middlewares"
	"github.com/markdave123-py/bitacora/internal/core"
	"github.com/markdave123-py/bitacora/internal/core/ingestion_engine"
	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/models"
	"github.com/markdave123-py/bitacora/internal/services"
)

const (
	defaultRowLimit = 100
	maxRowLimit     = 1000

	// enqueueWait bounds how long an upload waits for room in the ingest queue.
	enqueueWait = 2 * time.Second
)

type TableHandler struct {
	svc      *services.TableService
	ingestor ingestion_engine.Ingestor
	coord    *streaming.Coordinator
	maxBody  int64
}

func NewTableHandler(svc *services.TableService, ing ingestion_engine.Ingestor, coord *streaming.Coordinator, maxBody int64) *TableHandler {
	return &TableHandler{svc: svc, ingestor: ing, coord: coord, maxBody: maxBody}
}

// UploadTable stores the document, records it and queues background ingestion.
func (h *TableHandler) UploadTable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	if r.ContentLength > h.maxBody {
		http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	table, err := h.svc.UploadAndCreate(uploadCtx, userID, header.Filename, contentType, file)
	if err != nil {
		log.Printf("TableHandler: upload for user %s failed: %v", userID, err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	enqueueCtx, cancelEnqueue := context.WithTimeout(uploadCtx, enqueueWait)
	defer cancelEnqueue()

	if err := h.ingestor.Enqueue(enqueueCtx, table.ID); err != nil {
		log.Printf("TableHandler: enqueue %s: %v", table.ID, err)
		if err := h.svc.MarkFailed(uploadCtx, table.ID, "ingestion queue unavailable"); err != nil {
			log.Printf("TableHandler: mark %s failed: %v", table.ID, err)
		}
		http.Error(w, "ingestion queue is full, try again later", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, table)
}

func (h *TableHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	tables, err := h.svc.ListByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *TableHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	table, err := h.svc.GetOwned(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// StreamTable runs the stored document through a fresh session and writes
// the messages as NDJSON.
func (h *TableHandler) StreamTable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}
	chunkSize, err := chunkSizeParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tableID := chi.URLParam(r, "id")
	raw, err := h.svc.Raw(r.Context(), userID, tableID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	msgs, _ := h.coord.Stream(r.Context(), models.StreamRequest{
		Type:      models.TypeStart,
		ID:        tableID,
		Raw:       string(raw),
		ChunkSize: chunkSize,
	})
	if err := writeNDJSON(w, msgs); err != nil {
		log.Printf("TableHandler: stream %s: %v", tableID, err)
	}
}

// GetRows pages through persisted rows with offset and limit query params.
func (h *TableHandler) GetRows(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit", defaultRowLimit)
	if err != nil || limit <= 0 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	limit = min(limit, maxRowLimit)

	rows, err := h.svc.Rows(r.Context(), userID, chi.URLParam(r, "id"), offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"offset": offset,
		"limit":  limit,
		"rows":   rows,
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, "table not found", http.StatusNotFound)
	case errors.Is(err, services.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		log.Printf("service error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
