package ingestion_engine

import (
	"context"
	"fmt"

	"github.com/markdave123-py/bitacora/internal/models"
)

// persistRows consumes positioned rows and writes them in batches.
// This function provides the downstream sink for the pipeline above.
//
// tableID:   current table ID.
// in:        row stream from streamRows.
// batchSize: number of rows written per transaction (limits memory).
func (i *TableIngestor) persistRows(
	ctx context.Context,
	tableID string,
	in <-chan positionedRow,
	batchSize int,
) (int, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]positionedRow, 0, batchSize)
	written := 0

	// flush writes the current batch in one transaction.
	flush := func(items []positionedRow) error {
		if len(items) == 0 {
			return nil
		}

		rows := make([]models.TableRow, len(items))
		for k := range items {
			rows[k] = models.TableRow{
				TableID:  tableID,
				Position: items[k].Pos,
				Cells:    items[k].Cells,
			}
		}
		if err := i.db.InsertTableRows(ctx, rows); err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
		written += len(rows)
		return nil
	}

	for r := range in {
		batch = append(batch, r)
		if len(batch) == batchSize {
			if err := flush(batch); err != nil {
				return written, err
			}
			batch = batch[:0]
		}
	}
	// Final tail.
	if err := flush(batch); err != nil {
		return written, err
	}
	return written, nil
}
