package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/bitacora/internal/core/metrics"
	"github.com/markdave123-py/bitacora/internal/core/tableparse"
	"github.com/markdave123-py/bitacora/internal/models"
)

// drain reads every message until the channel closes.
func drain(t *testing.T, msgs <-chan models.StreamMessage) []models.StreamMessage {
	t.Helper()

	var out []models.StreamMessage
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return out
			}
			out = append(out, m)
		case <-timeout:
			t.Fatalf("timed out after %d messages", len(out))
		}
	}
}

// document builds a raw table with n rows of two cells each.
func document(n int) string {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("r%d", i), i}
	}
	b, _ := json.Marshal(map[string]any{"headers": []string{"id", "n"}, "rows": rows})
	return string(b)
}

func start(raw string, chunkSize int) models.StreamRequest {
	return models.StreamRequest{Type: models.TypeStart, Raw: raw, ChunkSize: chunkSize}
}

func TestSessionRoundTrip(t *testing.T) {
	coord := NewCoordinator(0, nil)

	for _, n := range []int{0, 1, 7, 799, 800, 801, 2500} {
		for _, k := range []int{1, 3, 800, 5000} {
			t.Run(fmt.Sprintf("n=%d/k=%d", n, k), func(t *testing.T) {
				raw := document(n)
				want, err := tableparse.Parse([]byte(raw))
				require.NoError(t, err)

				msgs, ok := coord.Stream(context.Background(), start(raw, k))
				require.True(t, ok)
				got := drain(t, msgs)

				require.NotEmpty(t, got)
				assert.Equal(t, models.TypeMeta, got[0].Type)
				assert.Equal(t, n, got[0].Total)
				assert.Equal(t, want.Headers, got[0].Headers)

				var rows [][]string
				doneCount := 0
				for i, m := range got[1:] {
					require.Equal(t, models.TypeChunk, m.Type)
					assert.LessOrEqual(t, len(m.Rows), k)
					if m.Done {
						doneCount++
						assert.Equal(t, len(got)-2, i, "done must be the last chunk")
					}
					rows = append(rows, m.Rows...)
				}
				assert.Equal(t, 1, doneCount)
				assert.Len(t, rows, n)
				if n > 0 {
					assert.Equal(t, want.Rows, rows)
				}
			})
		}
	}
}

func TestSessionExactMultipleHasNoTrailingChunk(t *testing.T) {
	coord := NewCoordinator(800, nil)

	msgs, ok := coord.Stream(context.Background(), start(document(1600), 800))
	require.True(t, ok)
	got := drain(t, msgs)

	require.Len(t, got, 3)
	assert.Equal(t, models.TypeMeta, got[0].Type)
	assert.Equal(t, 1600, got[0].Total)

	assert.Len(t, got[1].Rows, 800)
	assert.False(t, got[1].Done)
	assert.Len(t, got[2].Rows, 800)
	assert.True(t, got[2].Done)
}

func TestSessionEmptyDocument(t *testing.T) {
	coord := NewCoordinator(0, nil)

	msgs, ok := coord.Stream(context.Background(), start(`{"headers":[],"rows":[]}`, 3))
	require.True(t, ok)
	got := drain(t, msgs)

	require.Len(t, got, 2)
	assert.Equal(t, models.StreamMessage{Type: models.TypeMeta, Headers: []string{}, Total: 0}, got[0])
	assert.Equal(t, models.TypeChunk, got[1].Type)
	assert.Empty(t, got[1].Rows)
	assert.NotNil(t, got[1].Rows)
	assert.True(t, got[1].Done)
}

func TestSessionDefaultHeaders(t *testing.T) {
	coord := NewCoordinator(0, nil)

	msgs, ok := coord.Stream(context.Background(), start(`{"rows":[["a","b"]]}`, 0))
	require.True(t, ok)
	got := drain(t, msgs)

	require.Len(t, got, 2)
	assert.Equal(t, []string{}, got[0].Headers)
	assert.Equal(t, 1, got[0].Total)
	assert.Equal(t, [][]string{{"a", "b"}}, got[1].Rows)
	assert.True(t, got[1].Done)
}

func TestSessionNullCell(t *testing.T) {
	coord := NewCoordinator(0, nil)

	msgs, ok := coord.Stream(context.Background(), start(`{"headers":["x"],"rows":[[null]]}`, 0))
	require.True(t, ok)
	got := drain(t, msgs)

	require.Len(t, got, 2)
	assert.Equal(t, [][]string{{""}}, got[1].Rows)
}

func TestSessionMalformedJSON(t *testing.T) {
	coord := NewCoordinator(0, nil)

	s := coord.NewSession(context.Background())
	require.True(t, s.Post(start(`{"headers":["a"],"rows":[["x"],`, 2)))
	got := drain(t, s.Messages())

	require.Len(t, got, 1)
	assert.Equal(t, models.TypeError, got[0].Type)
	assert.NotEmpty(t, got[0].Message)
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionIgnoresNonStart(t *testing.T) {
	reg := prometheus.NewRegistry()
	coord := NewCoordinator(0, metrics.NewPipeline(reg))

	s := coord.NewSession(context.Background())
	assert.False(t, s.Post(models.StreamRequest{Type: "stop"}))
	assert.False(t, s.Post(models.StreamRequest{}))
	assert.Equal(t, StateIdle, s.State())

	select {
	case m := <-s.Messages():
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := coord.Stream(context.Background(), models.StreamRequest{Type: models.TypeChunk})
	assert.False(t, ok)
}

func TestSessionIsSingleShot(t *testing.T) {
	coord := NewCoordinator(0, nil)

	s := coord.NewSession(context.Background())
	require.True(t, s.Post(start(document(5), 2)))
	assert.False(t, s.Post(start(document(9), 2)))

	got := drain(t, s.Messages())
	require.NotEmpty(t, got)
	assert.Equal(t, 5, got[0].Total)
	assert.Len(t, got, 4)
	assert.Equal(t, StateDone, s.State())
}

func TestSessionEchoesRequestID(t *testing.T) {
	coord := NewCoordinator(0, nil)

	req := start(document(3), 2)
	req.ID = "req-1"
	msgs, ok := coord.Stream(context.Background(), req)
	require.True(t, ok)

	for _, m := range drain(t, msgs) {
		assert.Equal(t, "req-1", m.ID)
	}
}

func TestSessionDoesNotWaitForReader(t *testing.T) {
	coord := NewCoordinator(0, nil)

	s := coord.NewSession(context.Background())
	require.True(t, s.Post(start(document(1000), 1)))

	// nobody reads yet; the producer must still reach a terminal state
	require.Eventually(t, func() bool { return s.State() == StateDone }, 5*time.Second, 5*time.Millisecond)

	got := drain(t, s.Messages())
	assert.Len(t, got, 1001)
}

func TestSessionStopsDeliveringOnCancel(t *testing.T) {
	coord := NewCoordinator(0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, ok := coord.Stream(ctx, start(document(100), 1))
	require.True(t, ok)

	first := <-msgs
	assert.Equal(t, models.TypeMeta, first.Type)
	cancel()

	// channel closes without delivering the whole stream
	count := len(drain(t, msgs))
	assert.Less(t, count, 100)
}

func TestSessionRecoversFromParserPanic(t *testing.T) {
	coord := NewCoordinator(0, nil).WithParser(func([]byte) (*tableparse.Table, error) {
		panic("boom")
	})

	msgs, ok := coord.Stream(context.Background(), start("{}", 0))
	require.True(t, ok)
	got := drain(t, msgs)

	require.Len(t, got, 1)
	assert.Equal(t, models.TypeError, got[0].Type)
	assert.True(t, strings.Contains(got[0].Message, "boom"))
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	coord := NewCoordinator(0, metrics.NewPipeline(reg))

	msgs, _ := coord.Stream(context.Background(), start(document(10), 4))
	drain(t, msgs)
	msgs, _ = coord.Stream(context.Background(), start("{", 4))
	drain(t, msgs)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				values[key] = c.GetValue()
			}
		}
	}

	assert.Equal(t, float64(1), values["bitacora_stream_sessions_total/done"])
	assert.Equal(t, float64(1), values["bitacora_stream_sessions_total/failed"])
	assert.Equal(t, float64(3), values["bitacora_stream_chunks_emitted_total"])
	assert.Equal(t, float64(10), values["bitacora_stream_rows_emitted_total"])
}
