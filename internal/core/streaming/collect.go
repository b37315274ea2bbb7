package streaming

import (
	"context"
	"errors"
	"fmt"

	"github.com/markdave123-py/bitacora/internal/core/tableparse"
	"github.com/markdave123-py/bitacora/internal/models"
)

// ErrProtocol marks a message sequence that breaks the stream contract
// (chunk before meta, row count mismatch, channel closed early, ...).
var ErrProtocol = errors.New("stream protocol violation")

// StreamError is the error message a session terminated with.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// Handler consumes one session incrementally.
type Handler interface {
	OnMeta(ctx context.Context, headers []string, total int) error
	OnChunk(ctx context.Context, rows [][]string, done bool) error
}

// Consume reads msgs until the terminal message and feeds h. It returns a
// *StreamError when the session failed, an ErrProtocol-wrapped error when the
// sequence is malformed, the handler's error, or ctx.Err().
func Consume(ctx context.Context, msgs <-chan models.StreamMessage, h Handler) error {
	var (
		gotMeta  bool
		total    int
		received int
	)

	for {
		var msg models.StreamMessage
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%w: channel closed before terminal message", ErrProtocol)
			}
			msg = m
		}

		switch msg.Type {
		case models.TypeMeta:
			if gotMeta {
				return fmt.Errorf("%w: duplicate meta", ErrProtocol)
			}
			gotMeta, total = true, msg.Total
			if err := h.OnMeta(ctx, msg.Headers, msg.Total); err != nil {
				return err
			}

		case models.TypeChunk:
			if !gotMeta {
				return fmt.Errorf("%w: chunk before meta", ErrProtocol)
			}
			received += len(msg.Rows)
			if received > total {
				return fmt.Errorf("%w: received %d rows, meta declared %d", ErrProtocol, received, total)
			}
			if msg.Done && received != total {
				return fmt.Errorf("%w: stream done after %d rows, meta declared %d", ErrProtocol, received, total)
			}
			if err := h.OnChunk(ctx, msg.Rows, msg.Done); err != nil {
				return err
			}
			if msg.Done {
				return nil
			}

		case models.TypeError:
			return &StreamError{Message: msg.Message}

		default:
			return fmt.Errorf("%w: unexpected message type %q", ErrProtocol, msg.Type)
		}
	}
}

// Collect reassembles a whole table from one session's messages.
func Collect(ctx context.Context, msgs <-chan models.StreamMessage) (*tableparse.Table, error) {
	a := &assembler{}
	if err := Consume(ctx, msgs, a); err != nil {
		return nil, err
	}
	return &a.table, nil
}

type assembler struct {
	table tableparse.Table
}

func (a *assembler) OnMeta(_ context.Context, headers []string, total int) error {
	a.table.Headers = headers
	a.table.Rows = make([][]string, 0, total)
	return nil
}

func (a *assembler) OnChunk(_ context.Context, rows [][]string, _ bool) error {
	a.table.Rows = append(a.table.Rows, rows...)
	return nil
}
