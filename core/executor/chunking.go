package executor

import "batch-orchestrator/core/models"

// ChunkSize returns the size of each chunk when n items are spread over
// workerCount workers. Degraded mode halves it, down to single items.
func ChunkSize(n, workerCount int, degraded bool) int {
	if workerCount < 1 {
		workerCount = 1
	}
	size := (n + workerCount - 1) / workerCount
	if degraded {
		size /= 2
	}
	return max(1, size)
}

// Partition splits items into contiguous chunks in their original order.
// Boundaries depend only on the item count, the worker count and the degraded bit.
func Partition(items []models.Item, workerCount int, degraded bool) []models.Chunk {
	if len(items) == 0 {
		return nil
	}
	size := ChunkSize(len(items), workerCount, degraded)

	chunks := make([]models.Chunk, 0, (len(items)+size-1)/size)
	for offset := 0; offset < len(items); offset += size {
		end := min(offset+size, len(items))
		chunks = append(chunks, models.Chunk{
			Index:  len(chunks),
			Offset: offset,
			Items:  items[offset:end:end],
		})
	}
	return chunks
}
