package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrCacheMiss is returned when no usable entry exists for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrItemTooLarge is returned when a blob exceeds a bounded store's capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrBlobNotFound is returned by a BlobStore when nothing is stored at a locator.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobCorrupted is returned when a stored blob cannot be decoded
	ErrBlobCorrupted = errors.New("blob data corrupted")

	// ErrBlobWrite wraps failures persisting an audio payload.
	ErrBlobWrite = errors.New("blob write failed")

	// ErrIndexWrite wraps failures recording an entry after its blob was written.
	ErrIndexWrite = errors.New("index write failed")

	// ErrInvalidEntry is returned for puts missing a key, owner or payload.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrOwnerRequired is returned when a read or write carries no owner.
	ErrOwnerRequired = errors.New("owner id required")

	// ErrInvalidLocator is returned for locators escaping the blob root.
	ErrInvalidLocator = errors.New("invalid storage locator")

	// ErrSweepInProgress is returned when another process holds the sweep lock.
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrSchemaMismatch indicates the index database has an unexpected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// Entry is the index record for one cached line rendering. Entries are
// written after their blob and never mutated afterwards; a re-put replaces
// the whole record.
type Entry struct {
	Key         string    `json:"key"`
	OwnerID     string    `json:"ownerId"`
	ScriptID    string    `json:"scriptId"`
	LineIndex   int       `json:"lineIndex"`
	Character   string    `json:"character"`
	VoiceID     string    `json:"voiceId"`
	Speed       float64   `json:"speed"`
	Provider    string    `json:"provider"`
	Locator     string    `json:"storageLocator"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PutRequest carries everything needed to store a freshly synthesized line.
type PutRequest struct {
	Key         string
	OwnerID     string
	ScriptID    string
	LineIndex   int
	Character   string
	VoiceID     string
	Speed       float64
	Provider    string
	ContentType string
	Payload     []byte
}

// ListFilter narrows index listings. Empty fields match everything.
type ListFilter struct {
	OwnerID  string
	ScriptID string
	Limit    int
}

// Totals summarizes the index contents.
type Totals struct {
	Entries int64
	Bytes   int64
	Owners  int64
	Scripts int64
}

// Stats combines index totals with the store's runtime counters.
type Stats struct {
	Totals

	Hits   int64 // Gets served from a readable blob
	Misses int64 // Gets with no usable entry, including healed ones
	Healed int64 // Index entries purged because their blob was unreadable
	Writes int64 // Successful puts
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// SweepResult reports what an orphan sweep removed.
type SweepResult struct {
	Scanned int
	Removed int
	Freed   int64
}

// BlobStore is the payload area addressed by storage locators.
type BlobStore interface {
	Write(ctx context.Context, locator string, data []byte) error
	Read(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

// Index is the queryable metadata store. Every lookup and delete is scoped
// to an owner.
type Index interface {
	Lookup(ctx context.Context, ownerID, key string) (*Entry, error)
	Upsert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, ownerID, key string) error
	List(ctx context.Context, f ListFilter) ([]Entry, error)
	Totals(ctx context.Context) (Totals, error)
	Locators(ctx context.Context) (map[string]struct{}, error)
}

// sweeper is implemented by blob stores that can enumerate and prune blobs.
type sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time, keep func(locator string) bool) (SweepResult, error)
}

// prober is implemented by blob stores that can confirm a blob is present
// without reading it.
type prober interface {
	Exists(ctx context.Context, locator string) (bool, error)
}

// Config holds configuration for opening a store.
type Config struct {
	// Backend is "disk" or "memory".
	Backend string

	// Dir holds blobs and the index database for the disk backend.
	Dir string

	// CompressionLevel is the zstd level for disk blobs; 0 disables compression.
	CompressionLevel int

	// MemoryCapacity bounds the in-memory blob tier in bytes. For the disk
	// backend it sizes the read-through front tier; 0 disables that tier.
	MemoryCapacity int64
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Backend:          "disk",
		CompressionLevel: 3,
		MemoryCapacity:   64 * 1024 * 1024, // 64MB
	}
}
