package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/bitacora/internal/core"
	"github.com/markdave123-py/bitacora/internal/core/metrics"
	objectclient "github.com/markdave123-py/bitacora/internal/core/object-client"
	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/models"
)

// NewTableIngestor constructs the ingestor with a bounded job queue.
func NewTableIngestor(db core.DbClient, obj core.ObjectClient, coord *streaming.Coordinator, m *metrics.Pipeline, cfg *IngestConfig) *TableIngestor {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 64
	}
	return &TableIngestor{
		db: db, obj: obj, coord: coord, metrics: m, cfg: cfg,
		jobs: make(chan string, queue),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel.
// Each one runs the pipeline that fetches, parses, streams and persists tables.
func (i *TableIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("TableIngestor: worker %d shutting down.", w)
					return
				case tableID := <-i.jobs:
					i.metrics.SetIngestQueue(len(i.jobs))
					log.Printf("TableIngestor: processing table %s on worker %d", tableID, w)

					if err := i.ProcessOne(ctx, tableID); err != nil {
						log.Printf("TableIngestor: error processing table %s: %v", tableID, err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a table ID for ingestion.
// If the queue is full, this call blocks until space frees up or ctx ends.
func (i *TableIngestor) Enqueue(ctx context.Context, tableID string) error {
	select {
	case i.jobs <- tableID:
		i.metrics.SetIngestQueue(len(i.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requeue enqueues every table left uploaded or processing by an earlier
// run. It blocks while the queue is full and stops when ctx ends.
func (i *TableIngestor) Requeue(ctx context.Context) (int, error) {
	tables, err := i.db.ListTablesByStatus(ctx, models.StatusUploaded, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list pending tables: %w", err)
	}
	for n, t := range tables {
		if err := i.Enqueue(ctx, t.ID); err != nil {
			return n, err
		}
	}
	return len(tables), nil
}

// ProcessOne fetches, streams and persists a single table.
func (i *TableIngestor) ProcessOne(ctx context.Context, tableID string) error {
	// Detach from the caller's deadline: ingestion outlives the upload request.
	proctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()

	table, err := i.db.GetTableByID(proctx, tableID)
	if err != nil {
		return fmt.Errorf("load table: %w", err)
	}

	if err := i.db.UpdateTableStatus(proctx, tableID, models.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	rows, err := i.run(proctx, table)
	if err != nil {
		msg := err.Error()
		var se *streaming.StreamError
		if errors.As(err, &se) {
			msg = se.Message
		}
		_ = i.db.UpdateTableStatus(proctx, tableID, models.StatusFailed, msg)
		i.metrics.TableIngested(models.StatusFailed)
		return err
	}

	log.Printf("TableIngestor: table %s ready with %d rows", tableID, rows)
	i.metrics.TableIngested(models.StatusReady)
	return i.db.UpdateTableStatus(proctx, tableID, models.StatusReady, "")
}

// run ties the stages together: object storage -> coordinator session ->
// positioned rows -> batched inserts. Any stage error cancels the rest.
func (i *TableIngestor) run(ctx context.Context, table *models.Table) (int, error) {
	bucket, key := objectclient.ParseObjectURL(table.StorageURL)

	raw, err := i.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return 0, fmt.Errorf("get object: %w", err)
	}

	// A retried table starts from a clean slate.
	if err := i.db.DeleteTableRows(ctx, table.ID); err != nil {
		return 0, fmt.Errorf("clear rows: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	msgs, ok := i.coord.Stream(gctx, models.StreamRequest{
		Type:      models.TypeStart,
		ID:        table.ID,
		Raw:       string(raw),
		ChunkSize: i.cfg.ChunkSize,
	})
	if !ok {
		return 0, fmt.Errorf("coordinator refused start request for table %s", table.ID)
	}

	// session -> rows (receive-only channel).
	rowCh := i.streamRows(gctx, g, msgs, table.ID)

	// rows -> database.
	var written int
	g.Go(func() error {
		var err error
		written, err = i.persistRows(gctx, table.ID, rowCh, i.cfg.BatchSize)
		return err
	})

	if err := g.Wait(); err != nil {
		return written, err
	}
	return written, nil
}
