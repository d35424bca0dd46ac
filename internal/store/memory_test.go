package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"enricher/internal/domain"
)

func TestMemoryStoreApply(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Put(ctx, domain.Entity{ID: "e1", Title: "One", Status: domain.StatusPending}); err != nil {
		t.Fatalf("put: %v", err)
	}

	next, err := s.Apply(ctx, "e1", func(e domain.Entity) domain.Entity {
		e.Status = domain.StatusGeneratingImage
		e.StatusMessage = "rendering"
		return e
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Status != domain.StatusGeneratingImage || next.StatusMessage != "rendering" {
		t.Fatalf("snapshot = %+v", next)
	}

	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusGeneratingImage {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusGeneratingImage)
	}

	if _, err := s.Apply(ctx, "missing", func(e domain.Entity) domain.Entity { return e }); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestMemoryStoreNotifiesListeners(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var mu sync.Mutex
	var seen []domain.Status
	s.Subscribe(func(e domain.Entity) {
		mu.Lock()
		seen = append(seen, e.Status)
		mu.Unlock()
	})

	_ = s.Put(ctx, domain.Entity{ID: "e1", Status: domain.StatusPending})
	_, _ = s.Apply(ctx, "e1", func(e domain.Entity) domain.Entity {
		e.Status = domain.StatusSuccess
		return e
	})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != domain.StatusPending || seen[1] != domain.StatusSuccess {
		t.Fatalf("seen = %v", seen)
	}
}

func TestMemoryStoreApplyIsAtomicUnderConcurrency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Put(ctx, domain.Entity{ID: "e1"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Apply(ctx, "e1", func(e domain.Entity) domain.Entity {
				e.ImageCount++
				return e
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "e1")
	if got.ImageCount != 50 {
		t.Fatalf("image count = %d, want 50 (lost update)", got.ImageCount)
	}
}
