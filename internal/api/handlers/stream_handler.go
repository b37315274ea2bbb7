package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// StreamHandler exposes the parse coordinator to browser clients, either as
// an NDJSON response or over a websocket speaking the start/meta/chunk/error
// protocol.
type StreamHandler struct {
	coord    *streaming.Coordinator
	maxBody  int64
	upgrader websocket.Upgrader
}

func NewStreamHandler(coord *streaming.Coordinator, maxBody int64, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		coord:   coord,
		maxBody: maxBody,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// StreamDocument parses the request body and streams the table back as NDJSON.
func (h *StreamHandler) StreamDocument(w http.ResponseWriter, r *http.Request) {
	chunkSize, err := chunkSizeParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	msgs, _ := h.coord.Stream(r.Context(), models.StreamRequest{
		Type:      models.TypeStart,
		ID:        r.URL.Query().Get("id"),
		Raw:       string(raw),
		ChunkSize: chunkSize,
	})
	if err := writeNDJSON(w, msgs); err != nil {
		log.Printf("StreamHandler: %v", err)
	}
}

// WebSocket upgrades the connection and serves any number of sessions on it.
// Each text frame is a request. A start request whose fields cannot be
// decoded is answered with an error message; any other frame that is not a
// start request is ignored without a reply.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		log.Printf("StreamHandler: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	mux := h.coord.NewMux(ctx)

	var g errgroup.Group

	g.Go(func() error {
		defer mux.Close()
		defer cancel()
		return h.readRequests(conn, mux)
	})

	g.Go(func() error {
		err := h.writeMessages(ctx, conn, mux.Messages())
		if err != nil {
			// unblock the reader
			cancel()
			_ = conn.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil && !isClosedConn(err) {
		log.Printf("StreamHandler: websocket session ended: %v", err)
	}
}

func (h *StreamHandler) readRequests(conn *websocket.Conn, mux *streaming.Mux) error {
	conn.SetReadLimit(h.maxBody)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		req, err := models.DecodeStreamRequest(data)
		if err != nil {
			if typ, id, envErr := models.DecodeStreamEnvelope(data); envErr == nil && typ == models.TypeStart {
				mux.Reject(id, err.Error())
			}
			continue
		}
		mux.Dispatch(req)
	}
}

// writeMessages is the connection's only writer.
func (h *StreamHandler) writeMessages(ctx context.Context, conn *websocket.Conn, msgs <-chan models.StreamMessage) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = conn.Close()
			// keep draining until the mux closes the channel
			for range msgs {
			}
			return nil
		}
	}
}

// originChecker allows same-host requests, requests without an Origin
// header, and the configured origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func isClosedConn(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
