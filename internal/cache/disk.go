package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
)

// Blob files start with a one-byte codec tag.
const (
	codecRaw  byte = 'r'
	codecZstd byte = 'z'

	// compressThreshold is the payload size below which compression is skipped.
	compressThreshold = 1024

	sweepLockName = ".sweep.lock"
)

// DiskBlobs stores audio payloads as files under a root directory with
// optional zstd compression.
type DiskBlobs struct {
	root string

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ BlobStore = (*DiskBlobs)(nil)

// NewDiskBlobs creates a blob area rooted at root. A compressionLevel of 0
// stores payloads uncompressed; existing compressed blobs remain readable.
func NewDiskBlobs(root string, compressionLevel int) (*DiskBlobs, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	db := &DiskBlobs{root: root}

	var err error
	if compressionLevel > 0 {
		db.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	db.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return db, nil
}

// Root returns the blob directory.
func (db *DiskBlobs) Root() string {
	return db.root
}

// Write stores data at locator, replacing any previous blob atomically.
func (db *DiskBlobs) Write(ctx context.Context, locator string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := db.path(locator)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	return writeFile(path, db.encode(data))
}

// Read returns the payload stored at locator.
func (db *DiskBlobs) Read(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := db.path(locator)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, locator)
		}
		return nil, fmt.Errorf("read blob %s: %w", locator, err)
	}

	return db.decode(raw)
}

// Exists reports whether a blob file is present at locator.
func (db *DiskBlobs) Exists(ctx context.Context, locator string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := db.path(locator)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", locator, err)
	}
	return true, nil
}

// Delete removes the blob at locator. Missing blobs are not an error.
func (db *DiskBlobs) Delete(_ context.Context, locator string) error {
	path, err := db.path(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", locator, err)
	}
	return nil
}

// Sweep removes blobs older than olderThan for which keep returns false,
// along with abandoned temp files. Only one sweep runs at a time across
// processes sharing the directory.
func (db *DiskBlobs) Sweep(ctx context.Context, olderThan time.Time, keep func(string) bool) (SweepResult, error) {
	var result SweepResult

	lock := flock.New(filepath.Join(db.root, sweepLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return result, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !locked {
		return result, ErrSweepInProgress
	}
	defer lock.Unlock() //nolint:errcheck

	err = filepath.WalkDir(db.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		name := d.Name()
		if name == sweepLockName {
			return nil
		}

		rel, err := filepath.Rel(db.root, path)
		if err != nil {
			return nil
		}
		locator := filepath.ToSlash(rel)

		switch {
		case strings.HasSuffix(name, ".tmp"):
		case !validLocator(locator):
			return nil
		default:
			result.Scanned++
			if keep(locator) {
				return nil
			}
		}

		if !info.ModTime().Before(olderThan) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		result.Removed++
		result.Freed += info.Size()
		return nil
	})

	return result, err
}

// Close releases the zstd codec resources.
func (db *DiskBlobs) Close() error {
	if db.encoder != nil {
		_ = db.encoder.Close()
	}
	db.decoder.Close()
	return nil
}

func (db *DiskBlobs) path(locator string) (string, error) {
	if !validLocator(locator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(db.root, filepath.FromSlash(locator)), nil
}

func (db *DiskBlobs) encode(data []byte) []byte {
	if db.encoder != nil && len(data) > compressThreshold {
		compressed := db.encoder.EncodeAll(data, make([]byte, 1, len(data)/2))
		// Only use compression if it actually reduces size
		if len(compressed) < len(data)+1 {
			compressed[0] = codecZstd
			return compressed
		}
	}

	out := make([]byte, len(data)+1)
	out[0] = codecRaw
	copy(out[1:], data)
	return out
}

func (db *DiskBlobs) decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrBlobCorrupted)
	}

	switch raw[0] {
	case codecRaw:
		return raw[1:], nil
	case codecZstd:
		data, err := db.decoder.DecodeAll(raw[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBlobCorrupted, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", ErrBlobCorrupted, raw[0])
	}
}

// writeFile writes to a hidden temp file beside path, then renames it into place.
func writeFile(path string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
