package streaming

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/bitacora/internal/core/metrics"
	"github.com/markdave123-py/bitacora/internal/core/tableparse"
	"github.com/markdave123-py/bitacora/internal/models"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateParsing
	StateEmitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseFunc turns a raw document into a table.
type ParseFunc func(raw []byte) (*tableparse.Table, error)

// Session is a single-shot, one-way message channel: it accepts one start
// request and answers with meta, chunk... (last one done) or a single error.
//
// Parsing and batching run on their own goroutine; the caller only ever
// reads Messages().
type Session struct {
	ctx       context.Context
	parse     ParseFunc
	chunkSize int
	metrics   *metrics.Pipeline

	state atomic.Int32
	box   *outbox
	out   chan models.StreamMessage
}

func newSession(ctx context.Context, parse ParseFunc, chunkSize int, m *metrics.Pipeline) *Session {
	return &Session{
		ctx:       ctx,
		parse:     parse,
		chunkSize: chunkSize,
		metrics:   m,
		box:       newOutbox(),
		out:       make(chan models.StreamMessage),
	}
}

// Messages returns the ordered response channel. It is closed after the
// terminal message, or early if the session's context ends.
func (s *Session) Messages() <-chan models.StreamMessage {
	return s.out
}

// State reports the producer-side state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Post hands a request to the session. Only a start request received while
// Idle is accepted; anything else is dropped without a response and Post
// returns false.
func (s *Session) Post(req models.StreamRequest) bool {
	if req.Type != models.TypeStart {
		s.metrics.RequestIgnored()
		return false
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateParsing)) {
		s.metrics.RequestIgnored()
		return false
	}

	s.metrics.SessionStarted()
	go s.box.pump(s.ctx, s.out)
	go s.run(req)
	return true
}

func (s *Session) run(req models.StreamRequest) {
	defer s.box.close()

	started := time.Now()
	table, err := safeParse(s.parse, []byte(req.Raw))
	s.metrics.ObserveParse(time.Since(started))

	if err != nil {
		s.state.Store(int32(StateFailed))
		s.box.push(models.StreamMessage{ID: req.ID, Type: models.TypeError, Message: err.Error()})
		s.metrics.SessionFinished(metrics.OutcomeFailed)
		return
	}

	s.state.Store(int32(StateEmitting))
	s.box.push(models.StreamMessage{
		ID:      req.ID,
		Type:    models.TypeMeta,
		Headers: table.Headers,
		Total:   len(table.Rows),
	})

	chunkRows(table.Rows, req.EffectiveChunkSize(s.chunkSize), func(batch [][]string, done bool) {
		s.box.push(models.StreamMessage{ID: req.ID, Type: models.TypeChunk, Rows: batch, Done: done})
		s.metrics.ChunkEmitted(len(batch))
	})

	s.state.Store(int32(StateDone))
	s.metrics.SessionFinished(metrics.OutcomeDone)
}

// safeParse turns a panicking parser into an error so the session always
// ends with a terminal message.
func safeParse(parse ParseFunc, raw []byte) (table *tableparse.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			table, err = nil, fmt.Errorf("parse panicked: %v", r)
		}
	}()

	table, err = parse(raw)
	if err == nil && table == nil {
		err = fmt.Errorf("parse returned no table")
	}
	return table, err
}
