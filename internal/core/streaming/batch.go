package streaming

// chunkRows slices rows into consecutive batches of at most size rows and
// hands each to emit in order; the last call has done=true.
//
// Batches are cut from the existing rows, so a row count that is an exact
// multiple of size ends on a full batch. No rows at all still produce one
// empty, final batch so the consumer sees completion.
func chunkRows(rows [][]string, size int, emit func(batch [][]string, done bool)) {
	if size <= 0 {
		size = len(rows)
	}
	if len(rows) == 0 {
		emit([][]string{}, true)
		return
	}

	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))

		// fresh backing array: the consumer owns the batch it receives
		batch := make([][]string, end-start)
		copy(batch, rows[start:end])

		emit(batch, end == len(rows))
	}
}
