package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// TieredBlobs fronts a persistent blob area with a bounded memory tier.
// Reads check memory first and promote on a back-tier hit; writes go to the
// back tier before the front.
type TieredBlobs struct {
	front *MemoryBlobs
	back  BlobStore

	frontHits  atomic.Int64
	backHits   atomic.Int64
	promotions atomic.Int64
}

var _ BlobStore = (*TieredBlobs)(nil)

// TierStats reports where reads were served from.
type TierStats struct {
	FrontHits  int64
	BackHits   int64
	Promotions int64
	FrontSize  int64
}

// NewTieredBlobs creates a tiered blob area.
func NewTieredBlobs(front *MemoryBlobs, back BlobStore) *TieredBlobs {
	return &TieredBlobs{front: front, back: back}
}

// Read returns the blob from the front tier if present, else from the back
// tier, promoting it for faster future access. A front copy is only served
// while the back tier still holds the blob, so removals made by other
// processes are never masked.
func (t *TieredBlobs) Read(ctx context.Context, locator string) ([]byte, error) {
	if data, err := t.front.Read(ctx, locator); err == nil {
		p, ok := t.back.(prober)
		if !ok {
			t.frontHits.Add(1)
			return data, nil
		}
		exists, err := p.Exists(ctx, locator)
		if err != nil {
			return nil, err
		}
		if !exists {
			_ = t.front.Delete(ctx, locator)
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, locator)
		}
		t.frontHits.Add(1)
		return data, nil
	}

	data, err := t.back.Read(ctx, locator)
	if err != nil {
		// The back tier is authoritative; never serve a stale front copy.
		_ = t.front.Delete(ctx, locator)
		return nil, err
	}
	t.backHits.Add(1)

	if err := t.front.Write(ctx, locator, data); err == nil {
		t.promotions.Add(1)
	}
	return data, nil
}

// Write stores data in the back tier, then in the front tier.
func (t *TieredBlobs) Write(ctx context.Context, locator string, data []byte) error {
	if err := t.back.Write(ctx, locator, data); err != nil {
		_ = t.front.Delete(ctx, locator)
		return err
	}
	if err := t.front.Write(ctx, locator, data); err != nil && !errors.Is(err, ErrItemTooLarge) {
		_ = t.front.Delete(ctx, locator)
	}
	return nil
}

// Delete removes the blob from both tiers.
func (t *TieredBlobs) Delete(ctx context.Context, locator string) error {
	_ = t.front.Delete(ctx, locator)
	return t.back.Delete(ctx, locator)
}

// Sweep prunes both tiers. The back tier must support sweeping.
func (t *TieredBlobs) Sweep(ctx context.Context, olderThan time.Time, keep func(string) bool) (SweepResult, error) {
	if _, err := t.front.Sweep(ctx, olderThan, keep); err != nil {
		return SweepResult{}, err
	}
	s, ok := t.back.(sweeper)
	if !ok {
		return SweepResult{}, nil
	}
	return s.Sweep(ctx, olderThan, keep)
}

// Stats returns tier counters.
func (t *TieredBlobs) Stats() TierStats {
	return TierStats{
		FrontHits:  t.frontHits.Load(),
		BackHits:   t.backHits.Load(),
		Promotions: t.promotions.Load(),
		FrontSize:  t.front.Size(),
	}
}

// Close closes the back tier if it holds resources.
func (t *TieredBlobs) Close() error {
	if c, ok := t.back.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
