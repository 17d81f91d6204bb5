// Package planner partitions inclusive date ranges into contiguous
// batches for downstream processing. Planning is pure: no clocks, no
// I/O, no stored state.
package planner

import (
	"fmt"
	"time"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// DefaultBatchSize is used when a caller passes a non-positive batch size.
const DefaultBatchSize = 3

// Plan splits the inclusive date range [start, end] into consecutive
// chunks of at most batchSize days. Every day in the range appears in
// exactly one chunk, chunks preserve order, and only the final chunk
// may be shorter than batchSize.
func Plan(start, end time.Time, batchSize int) ([]schedule.DateChunk, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	first := schedule.Midnight(start)
	last := schedule.Midnight(end)
	if last.Before(first) {
		return nil, fmt.Errorf("end date %s is before start date %s", schedule.DateKey(last), schedule.DateKey(first))
	}

	chunks := make([]schedule.DateChunk, 0, schedule.DaysInclusive(first, last)/batchSize+1)
	for cur := first; !cur.After(last); {
		chunkEnd := cur.AddDate(0, 0, batchSize-1)
		if chunkEnd.After(last) {
			chunkEnd = last
		}
		chunks = append(chunks, schedule.DateChunk{Start: cur, End: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks, nil
}

// ClampBatchSize normalizes a requested batch size into [1, max],
// falling back to DefaultBatchSize when the request is non-positive.
func ClampBatchSize(requested, max int) int {
	if requested < 1 {
		requested = DefaultBatchSize
	}
	if max >= 1 && requested > max {
		return max
	}
	return requested
}
