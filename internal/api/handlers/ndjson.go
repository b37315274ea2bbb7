package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/markdave123-py/bitacora/internal/models"
)

// chunkSizeParam reads the optional chunkSize query parameter.
// Absent means 0 (coordinator default); anything but a positive integer is rejected.
func chunkSizeParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("chunkSize")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("chunkSize must be a positive integer, got %q", v)
	}
	return n, nil
}

// writeNDJSON streams one JSON message per line, flushing after each so the
// client can render rows before the stream ends. Parse failures travel
// in-band as an error message, so the status is always 200.
func writeNDJSON(w http.ResponseWriter, msgs <-chan models.StreamMessage) error {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)

	for msg := range msgs {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("write %s message: %w", msg.Type, err)
		}
		if err := rc.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		if msg.Terminal() {
			return nil
		}
	}
	return nil
}
