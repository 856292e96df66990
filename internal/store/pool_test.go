// ABOUTME: Tests for pool entry enqueue and claim operations
// ABOUTME: Covers FIFO order, at-most-once claiming under concurrency, and counts

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestEnqueueEntries(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	values := []string{"u1:p1", "u2:p2", "u3:p3"}

	inserted, err := store.EnqueueEntries(ctx, values, "batch-1")
	if err != nil {
		t.Fatalf("EnqueueEntries failed: %v", err)
	}
	if inserted != 3 {
		t.Errorf("expected 3 inserted, got %d", inserted)
	}

	count, err := store.CountUnclaimed(ctx)
	if err != nil {
		t.Fatalf("CountUnclaimed failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 unclaimed, got %d", count)
	}
}

func TestEnqueueEntries_Empty(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	inserted, err := store.EnqueueEntries(context.Background(), nil, "batch-1")
	if err != nil {
		t.Fatalf("EnqueueEntries failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("expected 0 inserted, got %d", inserted)
	}
}

func TestEnqueueEntries_MultipleBatches(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// More values than one batch holds, to exercise the batch loop.
	values := make([]string, enqueueBatchSize+25)
	for i := range values {
		values[i] = fmt.Sprintf("user%d:pass%d", i, i)
	}

	inserted, err := store.EnqueueEntries(ctx, values, "batch-big")
	if err != nil {
		t.Fatalf("EnqueueEntries failed: %v", err)
	}
	if inserted != len(values) {
		t.Errorf("expected %d inserted, got %d", len(values), inserted)
	}

	count, err := store.CountUnclaimed(ctx)
	if err != nil {
		t.Fatalf("CountUnclaimed failed: %v", err)
	}
	if count != len(values) {
		t.Errorf("expected %d unclaimed, got %d", len(values), count)
	}
}

func TestClaimEntry_FIFO(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	values := []string{"a:1", "b:2", "c:3"}
	if _, err := store.EnqueueEntries(ctx, values, ""); err != nil {
		t.Fatalf("EnqueueEntries failed: %v", err)
	}

	for _, want := range values {
		e, err := store.ClaimEntry(ctx, "claimant")
		if err != nil {
			t.Fatalf("ClaimEntry failed: %v", err)
		}
		if e.Value != want {
			t.Errorf("expected value %q, got %q", want, e.Value)
		}
		if e.Status != PoolStatusClaimed {
			t.Errorf("expected status %q, got %q", PoolStatusClaimed, e.Status)
		}
		if e.ClaimedBy != "claimant" {
			t.Errorf("expected claimed_by %q, got %q", "claimant", e.ClaimedBy)
		}
		if e.ClaimedAt == nil {
			t.Error("expected claimed_at to be set")
		}
	}
}

func TestClaimEntry_Empty(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.ClaimEntry(ctx, "claimant")
	if !errors.Is(err, ErrNoEntries) {
		t.Fatalf("expected ErrNoEntries, got %v", err)
	}

	// An empty claim must not mutate anything.
	count, err := store.CountUnclaimed(ctx)
	if err != nil {
		t.Fatalf("CountUnclaimed failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 unclaimed, got %d", count)
	}
}

func TestClaimEntry_ExhaustsPool(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if _, err := store.EnqueueEntries(ctx, []string{"only:one"}, ""); err != nil {
		t.Fatalf("EnqueueEntries failed: %v", err)
	}

	if _, err := store.ClaimEntry(ctx, "first"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// Claimed entries are never reconsidered.
	_, err := store.ClaimEntry(ctx, "second")
	if !errors.Is(err, ErrNoEntries) {
		t.Fatalf("expected ErrNoEntries after pool exhausted, got %v", err)
	}

	count, err := store.CountUnclaimed(ctx)
	if err != nil {
		t.Fatalf("CountUnclaimed failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 unclaimed, got %d", count)
	}
}

func TestClaimEntry_Concurrent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	const poolSize = 3
	const claimants = 8

	values := make([]string, poolSize)
	for i := range values {
		values[i] = fmt.Sprintf("user%d:pass%d", i, i)
	}
	if _, err := store.EnqueueEntries(ctx, values, ""); err != nil {
		t.Fatalf("EnqueueEntries failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan *PoolEntry, claimants)
	failures := make(chan error, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e, err := store.ClaimEntry(ctx, fmt.Sprintf("claimant-%d", n))
			if err != nil {
				failures <- err
				return
			}
			results <- e
		}(i)
	}
	wg.Wait()
	close(results)
	close(failures)

	seen := make(map[int64]bool)
	for e := range results {
		if seen[e.ID] {
			t.Errorf("entry %d claimed more than once", e.ID)
		}
		seen[e.ID] = true
	}
	if len(seen) != poolSize {
		t.Errorf("expected %d successful claims, got %d", poolSize, len(seen))
	}

	failed := 0
	for err := range failures {
		if !errors.Is(err, ErrNoEntries) {
			t.Errorf("unexpected claim error: %v", err)
		}
		failed++
	}
	if failed != claimants-poolSize {
		t.Errorf("expected %d failed claims, got %d", claimants-poolSize, failed)
	}
}
