package ingestion_engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/bitacora/internal/core/streaming"
	"github.com/markdave123-py/bitacora/internal/models"
)

// streamRows consumes one coordinator session and flattens its chunks into
// positioned rows.
//
// msgs:    the session's message channel.
// tableID: table whose metadata is updated when meta arrives.
// out:     receive-only channel of rows in table order; closed when the session ends.
func (i *TableIngestor) streamRows(
	ctx context.Context,
	g *errgroup.Group,
	msgs <-chan models.StreamMessage,
	tableID string,
) <-chan positionedRow {
	out := make(chan positionedRow, 64)

	g.Go(func() error {
		defer close(out)
		return streaming.Consume(ctx, msgs, &rowForwarder{
			ingestor: i,
			tableID:  tableID,
			out:      out,
		})
	})

	return out
}

// rowForwarder is the streaming.Handler behind streamRows.
type rowForwarder struct {
	ingestor *TableIngestor
	tableID  string
	out      chan<- positionedRow
	pos      int
}

func (f *rowForwarder) OnMeta(ctx context.Context, headers []string, total int) error {
	return f.ingestor.db.UpdateTableMeta(ctx, f.tableID, headers, total)
}

func (f *rowForwarder) OnChunk(ctx context.Context, rows [][]string, _ bool) error {
	for _, cells := range rows {
		select {
		case f.out <- positionedRow{Pos: f.pos, Cells: cells}:
			f.pos++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
