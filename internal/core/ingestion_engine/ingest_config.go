package ingestion_engine

import (
	"github.com/markdave123-py/bitacora/internal/core"
	"github.com/markdave123-py/bitacora/internal/core/metrics"
	"github.com/markdave123-py/bitacora/internal/core/streaming"
)

// IngestConfig tunes the ingestion pipeline.
//
// ChunkSize:  rows per stream chunk requested from the coordinator (0 = coordinator default).
// BatchSize:  rows written to the database in one transaction (e.g., 500).
// QueueSize:  capacity of the in-memory job queue.
type IngestConfig struct {
	ChunkSize int
	BatchSize int
	QueueSize int
}

// positionedRow is the internal representation passed between stages.
//
// Pos:   zero-based position of the row inside the table.
// Cells: coerced cell text.
type positionedRow struct {
	Pos   int
	Cells []string
}

// TableIngestor orchestrates the background ingestion pipeline:
//
// db:       persistence for tables and their rows.
// obj:      object storage holding the raw documents.
// coord:    stream coordinator that parses and chunks a document.
// metrics:  optional prometheus collectors (nil = disabled).
// cfg:      runtime tuning knobs for the pipeline.
// jobs:     in-memory queue of table IDs to process.
type TableIngestor struct {
	db      core.DbClient
	obj     core.ObjectClient
	coord   *streaming.Coordinator
	metrics *metrics.Pipeline
	cfg     *IngestConfig
	jobs    chan string
}
