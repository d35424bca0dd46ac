package remote

import (
	"context"
	"fmt"
	"time"
)

// RunBatched partitions items into consecutive chunks of batchSize, runs
// perBatch once per chunk through the retrier, and returns the accumulated
// results in input order. onProgress fires after every chunk with cumulative
// counts. A chunk failing past its retry budget aborts the whole call; no
// partial results are returned. The delay runs between chunks only, never
// before the first or after the last.
func RunBatched[T, R any](
	ctx context.Context,
	items []T,
	batchSize int,
	delay time.Duration,
	policy RetryPolicy,
	perBatch func(context.Context, []T) ([]R, error),
	onProgress func(done, total int),
) ([]R, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	total := len(items)
	results := make([]R, 0, total)
	for start := 0; start < total; start += batchSize {
		if start > 0 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		end := min(start+batchSize, total)
		chunk := items[start:end]
		chunkResults, err := RetryValue(ctx, policy, func(attemptCtx context.Context) ([]R, error) {
			return perBatch(attemptCtx, chunk)
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d of %d: %w", start, end, total, err)
		}
		results = append(results, chunkResults...)
		if onProgress != nil {
			onProgress(end, total)
		}
	}
	return results, nil
}
