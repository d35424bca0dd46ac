package remote

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestRunBatchedChunking(t *testing.T) {
	delays := recordSleeps(t)
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}
	var chunkSizes []int
	var progress [][2]int
	results, err := RunBatched(context.Background(), items, 3, 50*time.Millisecond, RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond},
		func(ctx context.Context, chunk []int) ([]string, error) {
			chunkSizes = append(chunkSizes, len(chunk))
			out := make([]string, len(chunk))
			for i, v := range chunk {
				out[i] = strconv.Itoa(v)
			}
			return out, nil
		},
		func(done, total int) {
			progress = append(progress, [2]int{done, total})
		},
	)
	if err != nil {
		t.Fatalf("run batched: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("results = %d, want %d", len(results), len(items))
	}
	for i, r := range results {
		if r != strconv.Itoa(i) {
			t.Fatalf("results[%d] = %q, input order not preserved", i, r)
		}
	}
	wantChunks := []int{3, 3, 3, 1}
	if len(chunkSizes) != len(wantChunks) {
		t.Fatalf("chunks = %v, want %v", chunkSizes, wantChunks)
	}
	for i, size := range wantChunks {
		if chunkSizes[i] != size {
			t.Fatalf("chunk[%d] size = %d, want %d", i, chunkSizes[i], size)
		}
	}
	last := progress[len(progress)-1]
	if last != [2]int{10, 10} {
		t.Fatalf("final progress = %v, want (10, 10)", last)
	}
	// Delay runs between chunks only: ceil(10/3)-1 = 3 sleeps.
	if len(*delays) != 3 {
		t.Fatalf("sleeps = %d, want 3", len(*delays))
	}
}

func TestRunBatchedChunkFailureAborts(t *testing.T) {
	recordSleeps(t)
	items := []int{1, 2, 3, 4, 5, 6}
	cause := errors.New("provider rejected batch")
	calls := 0
	_, err := RunBatched(context.Background(), items, 2, 0, RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond},
		func(ctx context.Context, chunk []int) ([]int, error) {
			calls++
			if calls == 2 {
				return nil, cause
			}
			return chunk, nil
		}, nil)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want %v", err, cause)
	}
	// Fatal failure on the second chunk: first chunk succeeded, no third call.
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRunBatchedRetriesTransientChunk(t *testing.T) {
	recordSleeps(t)
	attempts := 0
	results, err := RunBatched(context.Background(), []int{1, 2}, 2, 0, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond},
		func(ctx context.Context, chunk []int) ([]int, error) {
			attempts++
			if attempts == 1 {
				return nil, &StatusError{Code: 429, Message: "throttled"}
			}
			return chunk, nil
		}, nil)
	if err != nil {
		t.Fatalf("run batched: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
}

func TestRunBatchedEmptyInput(t *testing.T) {
	results, err := RunBatched(context.Background(), nil, 5, time.Second, RetryPolicy{},
		func(ctx context.Context, chunk []int) ([]int, error) {
			t.Fatalf("perBatch must not run for empty input")
			return nil, nil
		}, nil)
	if err != nil {
		t.Fatalf("run batched: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %d, want 0", len(results))
	}
}
