package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	homedir "github.com/mitchellh/go-homedir"
)

// DefaultContentType is assumed for payloads stored without one.
const DefaultContentType = "audio/mpeg"

// Store is the owner-scoped audio cache. It is safe for concurrent use by
// multiple schedulers: writes are keyed by owner and key, and a re-put of the
// same key overwrites the previous rendering.
type Store struct {
	blobs  BlobStore
	index  Index
	logger *log.Logger

	hits   atomic.Int64
	misses atomic.Int64
	healed atomic.Int64
	writes atomic.Int64
}

// NewStore creates a store over the given blob area and index. A nil logger
// uses the default logger.
func NewStore(blobs BlobStore, index Index, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		blobs:  blobs,
		index:  index,
		logger: logger.WithPrefix("cache"),
	}
}

// Open builds a store from cfg. The disk backend keeps blobs under
// <dir>/blobs and the index in <dir>/index.db.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	switch cfg.Backend {
	case "memory":
		idx, err := OpenIndex(ctx, MemoryIndexPath)
		if err != nil {
			return nil, err
		}
		capacity := cfg.MemoryCapacity
		if capacity <= 0 {
			capacity = DefaultConfig().MemoryCapacity
		}
		return NewStore(NewMemoryBlobs(capacity), idx, logger), nil

	case "", "disk":
		dir, err := homedir.Expand(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("expand cache dir: %w", err)
		}
		if dir == "" {
			return nil, errors.New("cache dir is required for the disk backend")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}

		disk, err := NewDiskBlobs(filepath.Join(dir, "blobs"), cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		idx, err := OpenIndex(ctx, filepath.Join(dir, "index.db"))
		if err != nil {
			_ = disk.Close()
			return nil, err
		}

		var blobs BlobStore = disk
		if cfg.MemoryCapacity > 0 {
			blobs = NewTieredBlobs(NewMemoryBlobs(cfg.MemoryCapacity), disk)
		}
		return NewStore(blobs, idx, logger), nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Get returns the audio cached under key for ownerID. A missing or
// unreadable blob purges its index entry and reports ErrCacheMiss.
func (s *Store) Get(ctx context.Context, ownerID, key string) ([]byte, *Entry, error) {
	if ownerID == "" {
		return nil, nil, ErrOwnerRequired
	}

	entry, err := s.index.Lookup(ctx, ownerID, key)
	if errors.Is(err, ErrCacheMiss) {
		s.misses.Add(1)
		return nil, nil, ErrCacheMiss
	}
	if err != nil {
		return nil, nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry.OwnerID != ownerID {
		s.misses.Add(1)
		return nil, nil, ErrCacheMiss
	}

	data, err := s.blobs.Read(ctx, entry.Locator)
	if err == nil && entry.Size > 0 && int64(len(data)) != entry.Size {
		err = fmt.Errorf("%w: size %d, expected %d", ErrBlobCorrupted, len(data), entry.Size)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		s.heal(ctx, entry, err)
		return nil, nil, ErrCacheMiss
	}

	s.hits.Add(1)
	return data, entry, nil
}

// Put writes the payload, then its index entry. If the index write fails
// the blob is left in place as an orphan for Sweep to collect.
func (s *Store) Put(ctx context.Context, req PutRequest) (*Entry, error) {
	switch {
	case req.OwnerID == "":
		return nil, ErrOwnerRequired
	case req.Key == "":
		return nil, fmt.Errorf("%w: empty key", ErrInvalidEntry)
	case len(req.Payload) == 0:
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidEntry)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	locator := Locator(req.OwnerID, req.ScriptID, req.LineIndex, req.Key, contentType)

	if err := s.blobs.Write(ctx, locator, req.Payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobWrite, err)
	}

	entry := Entry{
		Key:         req.Key,
		OwnerID:     req.OwnerID,
		ScriptID:    req.ScriptID,
		LineIndex:   req.LineIndex,
		Character:   req.Character,
		VoiceID:     req.VoiceID,
		Speed:       req.Speed,
		Provider:    req.Provider,
		Locator:     locator,
		ContentType: contentType,
		Size:        int64(len(req.Payload)),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.index.Upsert(ctx, entry); err != nil {
		s.logger.Warn("Index write failed, blob left orphaned", "locator", locator, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrIndexWrite, err)
	}

	s.writes.Add(1)
	s.logger.Debug("Stored line audio", "owner", req.OwnerID, "script", req.ScriptID,
		"line", req.LineIndex, "bytes", entry.Size)
	return &entry, nil
}

// Delete removes the entry and its blob. The index entry goes first so no
// entry ever points at a removed blob.
func (s *Store) Delete(ctx context.Context, ownerID, key string) error {
	if ownerID == "" {
		return ErrOwnerRequired
	}

	entry, err := s.index.Lookup(ctx, ownerID, key)
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache lookup: %w", err)
	}

	if err := s.index.Delete(ctx, ownerID, key); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if err := s.blobs.Delete(ctx, entry.Locator); err != nil {
		s.logger.Warn("Blob delete failed", "locator", entry.Locator, "err", err)
	}
	return nil
}

// Purge deletes every entry owned by ownerID, optionally narrowed to one
// script, and returns how many were removed.
func (s *Store) Purge(ctx context.Context, ownerID, scriptID string) (int, error) {
	if ownerID == "" {
		return 0, ErrOwnerRequired
	}

	entries, err := s.index.List(ctx, ListFilter{OwnerID: ownerID, ScriptID: scriptID})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if err := s.Delete(ctx, e.OwnerID, e.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// List returns index entries matching f.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	return s.index.List(ctx, f)
}

// Stats returns index totals and runtime counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	totals, err := s.index.Totals(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Totals: totals,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Healed: s.healed.Load(),
		Writes: s.writes.Load(),
	}, nil
}

// TierStats returns memory tier counters when the store is tiered.
func (s *Store) TierStats() (TierStats, bool) {
	t, ok := s.blobs.(*TieredBlobs)
	if !ok {
		return TierStats{}, false
	}
	return t.Stats(), true
}

// Sweep removes blobs that no index entry references. Blobs younger than
// grace are kept so a put between its blob and index writes is never
// collected.
func (s *Store) Sweep(ctx context.Context, grace time.Duration) (SweepResult, error) {
	sw, ok := s.blobs.(sweeper)
	if !ok {
		return SweepResult{}, errors.New("blob store does not support sweeping")
	}

	referenced, err := s.index.Locators(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	result, err := sw.Sweep(ctx, time.Now().Add(-grace), func(loc string) bool {
		_, ok := referenced[loc]
		return ok
	})
	if err != nil {
		return result, err
	}

	s.logger.Info("Swept orphan blobs", "scanned", result.Scanned, "removed", result.Removed, "freed", result.Freed)
	return result, nil
}

// Close releases the blob area and index.
func (s *Store) Close() error {
	var errs []error
	if c, ok := s.blobs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.index.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (s *Store) heal(ctx context.Context, entry *Entry, cause error) {
	s.misses.Add(1)
	s.healed.Add(1)
	s.logger.Warn("Cached blob unreadable, dropping entry",
		"owner", entry.OwnerID, "key", entry.Key, "locator", entry.Locator, "err", cause)

	if err := s.index.Delete(ctx, entry.OwnerID, entry.Key); err != nil {
		s.logger.Error("Failed to drop stale entry", "key", entry.Key, "err", err)
	}
	if errors.Is(cause, ErrBlobCorrupted) {
		_ = s.blobs.Delete(ctx, entry.Locator)
	}
}
