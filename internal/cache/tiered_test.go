package cache

import (
	"context"
	"errors"
	"testing"
)

func TestTieredBlobs_PromotesOnBackHit(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryBlobs(1024)
	back := NewMemoryBlobs(1024)
	tiered := NewTieredBlobs(front, back)

	loc := "o/s/0-k.mp3"
	back.Write(ctx, loc, []byte("from disk"))

	got, err := tiered.Read(ctx, loc)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "from disk" {
		t.Errorf("got %q", got)
	}
	if !front.Contains(loc) {
		t.Error("back tier hit was not promoted")
	}

	tiered.Read(ctx, loc)
	stats := tiered.Stats()
	if stats.BackHits != 1 || stats.FrontHits != 1 || stats.Promotions != 1 {
		t.Errorf("unexpected tier stats: %+v", stats)
	}
}

func TestTieredBlobs_WriteAndDeleteBothTiers(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryBlobs(1024)
	back := NewMemoryBlobs(1024)
	tiered := NewTieredBlobs(front, back)

	loc := "o/s/1-k.mp3"
	if err := tiered.Write(ctx, loc, []byte("audio")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !front.Contains(loc) || !back.Contains(loc) {
		t.Error("write did not reach both tiers")
	}

	tiered.Delete(ctx, loc)
	if front.Contains(loc) || back.Contains(loc) {
		t.Error("delete did not clear both tiers")
	}
}

func TestTieredBlobs_OversizedSkipsFront(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryBlobs(4)
	back := NewMemoryBlobs(1024)
	tiered := NewTieredBlobs(front, back)

	if err := tiered.Write(ctx, "o/s/2-k.mp3", []byte("larger than front")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if front.Contains("o/s/2-k.mp3") {
		t.Error("oversized blob landed in the front tier")
	}
}

func TestTieredBlobs_BackMissClearsFront(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryBlobs(1024)
	back := NewMemoryBlobs(1024)
	tiered := NewTieredBlobs(front, back)

	if _, err := tiered.Read(ctx, "o/s/3-k.mp3"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestTieredBlobs_FrontCopyDroppedWhenBackLost(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryBlobs(1024)
	back := NewMemoryBlobs(1024)
	tiered := NewTieredBlobs(front, back)

	loc := "o/s/4-k.mp3"
	if err := tiered.Write(ctx, loc, []byte("audio")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Another process removes the persistent copy
	back.Delete(ctx, loc)

	if _, err := tiered.Read(ctx, loc); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
	if front.Contains(loc) {
		t.Error("stale front copy was kept")
	}
	if stats := tiered.Stats(); stats.FrontHits != 0 {
		t.Errorf("FrontHits = %d, want 0", stats.FrontHits)
	}
}
