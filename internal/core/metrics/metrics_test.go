package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPipelineIsNoop(t *testing.T) {
	var m *Pipeline
	assert.Nil(t, NewPipeline(nil))

	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished(OutcomeDone)
		m.RequestIgnored()
		m.ChunkEmitted(10)
		m.ObserveParse(time.Millisecond)
		m.TableIngested("ready")
		m.SetIngestQueue(3)
	})
}

func TestPipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipeline(reg)
	require.NotNil(t, m)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished(OutcomeDone)
	m.ChunkEmitted(800)
	m.ChunkEmitted(3)
	m.RequestIgnored()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessions.WithLabelValues(OutcomeDone)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.sessions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.chunksEmitted))
	assert.Equal(t, float64(803), testutil.ToFloat64(m.rowsEmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ignored))
}

func TestNewPipelineRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPipeline(reg)

	assert.Panics(t, func() { NewPipeline(reg) })
}
