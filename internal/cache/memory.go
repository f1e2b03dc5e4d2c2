package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBlobs is an in-process blob area with LRU eviction bounded by bytes.
// An evicted blob leaves its index entry behind; the Store heals that entry
// on the next lookup.
type MemoryBlobs struct {
	capacity int64 // Maximum size in bytes
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	mu sync.Mutex

	evictions int64
}

var _ BlobStore = (*MemoryBlobs)(nil)

type memoryBlob struct {
	locator string
	data    []byte
	written time.Time
}

// NewMemoryBlobs creates a memory blob area with the specified capacity in bytes.
func NewMemoryBlobs(capacity int64) *MemoryBlobs {
	return &MemoryBlobs{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

// Write stores a copy of data at locator.
func (c *MemoryBlobs) Write(ctx context.Context, locator string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validLocator(locator) {
		return fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(data))
	if size > c.capacity {
		return ErrItemTooLarge
	}

	if elem, ok := c.items[locator]; ok {
		c.removeElement(elem)
	}

	// Evict items if necessary
	for c.size+size > c.capacity && c.eviction.Len() > 0 {
		c.evictOldest()
	}

	blob := &memoryBlob{
		locator: locator,
		data:    append([]byte(nil), data...),
		written: time.Now(),
	}
	c.items[locator] = c.eviction.PushFront(blob)
	c.size += size

	return nil
}

// Read returns a copy of the blob at locator.
func (c *MemoryBlobs) Read(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[locator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, locator)
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)
	blob := elem.Value.(*memoryBlob)
	return append([]byte(nil), blob.data...), nil
}

// Delete removes the blob at locator.
func (c *MemoryBlobs) Delete(_ context.Context, locator string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[locator]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Contains checks if a blob exists without updating LRU order.
func (c *MemoryBlobs) Contains(locator string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[locator]
	return ok
}

// Exists reports whether a blob is stored at locator.
func (c *MemoryBlobs) Exists(_ context.Context, locator string) (bool, error) {
	return c.Contains(locator), nil
}

// Size returns the current size in bytes.
func (c *MemoryBlobs) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Evictions returns how many blobs were dropped to make room.
func (c *MemoryBlobs) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictions
}

// Sweep removes blobs written before olderThan that keep rejects.
func (c *MemoryBlobs) Sweep(ctx context.Context, olderThan time.Time, keep func(string) bool) (SweepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result SweepResult
	elem := c.eviction.Back()
	for elem != nil {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		prev := elem.Prev()
		blob := elem.Value.(*memoryBlob)
		result.Scanned++

		if !keep(blob.locator) && blob.written.Before(olderThan) {
			result.Removed++
			result.Freed += int64(len(blob.data))
			c.removeElement(elem)
		}
		elem = prev
	}
	return result, nil
}

// evictOldest removes the least recently used blob (must be called with lock held).
func (c *MemoryBlobs) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions++
	}
}

// removeElement must be called with lock held.
func (c *MemoryBlobs) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	blob := elem.Value.(*memoryBlob)
	delete(c.items, blob.locator)
	c.size -= int64(len(blob.data))
}
