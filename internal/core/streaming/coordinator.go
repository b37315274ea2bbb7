package streaming

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/markdave123-py/bitacora/internal/core/metrics"
	"github.com/markdave123-py/bitacora/internal/core/tableparse"
	"github.com/markdave123-py/bitacora/internal/models"
)

// Coordinator creates stream sessions that share a parser, a default chunk
// size and metrics.
type Coordinator struct {
	parse     ParseFunc
	chunkSize int
	metrics   *metrics.Pipeline
}

// NewCoordinator builds a coordinator backed by tableparse.Parse.
// chunkSize <= 0 falls back to models.DefaultChunkSize.
func NewCoordinator(chunkSize int, m *metrics.Pipeline) *Coordinator {
	if chunkSize <= 0 {
		chunkSize = models.DefaultChunkSize
	}
	return &Coordinator{parse: tableparse.Parse, chunkSize: chunkSize, metrics: m}
}

// WithParser returns a copy of c that parses with fn.
func (c *Coordinator) WithParser(fn ParseFunc) *Coordinator {
	cp := *c
	cp.parse = fn
	return &cp
}

// ChunkSize is the default batch bound for requests that do not set one.
func (c *Coordinator) ChunkSize() int {
	return c.chunkSize
}

// NewSession returns an idle session whose delivery stops when ctx ends.
func (c *Coordinator) NewSession(ctx context.Context) *Session {
	return newSession(ctx, c.parse, c.chunkSize, c.metrics)
}

// Stream is NewSession followed by Post. ok is false when req was ignored,
// in which case no channel is returned.
func (c *Coordinator) Stream(ctx context.Context, req models.StreamRequest) (msgs <-chan models.StreamMessage, ok bool) {
	s := c.NewSession(ctx)
	if !s.Post(req) {
		return nil, false
	}
	return s.Messages(), true
}

// Mux runs several sessions over one transport. Every start request gets
// its own session keyed by the request id; all their messages are merged
// onto one channel, each stamped with its id. Order is kept within a
// session, not across sessions.
type Mux struct {
	ctx   context.Context
	coord *Coordinator
	out   chan models.StreamMessage

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewMux returns a multiplexer whose sessions stop delivering when ctx ends.
func (c *Coordinator) NewMux(ctx context.Context) *Mux {
	return &Mux{
		ctx:    ctx,
		coord:  c,
		out:    make(chan models.StreamMessage),
		active: make(map[string]struct{}),
	}
}

// Messages returns the merged response channel; it is closed by Close.
func (m *Mux) Messages() <-chan models.StreamMessage {
	return m.out
}

// Dispatch starts a session for a start request. Requests of any other
// type, requests reusing an id that is still in flight, and requests after
// Close are ignored. The returned id is the session key (generated when the
// request had none).
func (m *Mux) Dispatch(req models.StreamRequest) (id string, ok bool) {
	if req.Type != models.TypeStart {
		m.coord.metrics.RequestIgnored()
		return "", false
	}
	id, ok = m.reserve(req.ID)
	if !ok {
		return "", false
	}
	req.ID = id

	s := m.coord.NewSession(m.ctx)
	s.Post(req)

	go func() {
		defer m.wg.Done()
		defer m.release(req.ID)

		for msg := range s.Messages() {
			select {
			case m.out <- msg:
			case <-m.ctx.Done():
				return
			}
		}
	}()

	return req.ID, true
}

// Reject answers a start request that could not be decoded with a single
// error message under id, so its sender is not left waiting. It follows the
// same id rules as Dispatch.
func (m *Mux) Reject(id, message string) (string, bool) {
	id, ok := m.reserve(id)
	if !ok {
		return "", false
	}

	m.coord.metrics.SessionStarted()
	m.coord.metrics.SessionFinished(metrics.OutcomeFailed)

	go func() {
		defer m.wg.Done()
		defer m.release(id)

		select {
		case m.out <- models.StreamMessage{ID: id, Type: models.TypeError, Message: message}:
		case <-m.ctx.Done():
		}
	}()

	return id, true
}

// reserve claims id (a fresh uuid when empty) for one in-flight session.
func (m *Mux) reserve(id string) (string, bool) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[id]; busy || m.closed {
		m.coord.metrics.RequestIgnored()
		return "", false
	}
	m.active[id] = struct{}{}
	m.wg.Add(1)
	return id, true
}

func (m *Mux) release(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Close stops accepting requests, waits until every dispatched session has
// delivered its terminal message (or the context ended) and closes
// Messages(). The reader must keep draining Messages() until then.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
	close(m.out)
}
