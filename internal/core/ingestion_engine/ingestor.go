package ingestion_engine

import "context"

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, tableID string) error
	ProcessOne(ctx context.Context, tableID string) error
	Requeue(ctx context.Context) (int, error)
}

var _ Ingestor = (*TableIngestor)(nil)
