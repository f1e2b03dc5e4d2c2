package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryBlobs_BasicOperations(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs(1024) // 1KB capacity

	loc := "owner/script/0-abc.mp3"
	value := []byte("test-value")

	if err := blobs.Write(ctx, loc, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	retrieved, err := blobs.Read(ctx, loc)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(retrieved) != string(value) {
		t.Errorf("Retrieved value mismatch: got %s, want %s", retrieved, value)
	}

	// Stored data must not alias the caller's slice
	value[0] = 'X'
	retrieved, _ = blobs.Read(ctx, loc)
	if retrieved[0] != 't' {
		t.Error("Write kept a reference to the caller's buffer")
	}

	if blobs.Size() != int64(len(value)) {
		t.Errorf("Size mismatch: got %d, want %d", blobs.Size(), len(value))
	}

	if err := blobs.Delete(ctx, loc); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if blobs.Contains(loc) {
		t.Error("Blob still exists after delete")
	}
	if blobs.Size() != 0 {
		t.Errorf("Size not zero after delete: %d", blobs.Size())
	}

	if _, err := blobs.Read(ctx, loc); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemoryBlobs_LRUEviction(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs(100) // Small capacity for testing

	for i := 0; i < 5; i++ {
		if err := blobs.Write(ctx, fmt.Sprintf("o/s/%d-k.mp3", i), make([]byte, 20)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	// Touch 0 and 1 so they are recently used
	blobs.Read(ctx, "o/s/0-k.mp3")
	blobs.Read(ctx, "o/s/1-k.mp3")

	if err := blobs.Write(ctx, "o/s/9-k.mp3", make([]byte, 30)); err != nil {
		t.Fatalf("Write failed for new blob: %v", err)
	}

	if blobs.Contains("o/s/2-k.mp3") {
		t.Error("2 should have been evicted")
	}
	if !blobs.Contains("o/s/0-k.mp3") || !blobs.Contains("o/s/1-k.mp3") {
		t.Error("recently read blobs should not have been evicted")
	}
	if blobs.Evictions() == 0 {
		t.Error("expected eviction count to increase")
	}
}

func TestMemoryBlobs_ItemTooLarge(t *testing.T) {
	blobs := NewMemoryBlobs(100)

	err := blobs.Write(context.Background(), "o/s/0-k.mp3", make([]byte, 200))
	if !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemoryBlobs_OverwriteUpdatesSize(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs(1024)

	loc := "o/s/0-k.mp3"
	blobs.Write(ctx, loc, []byte("original"))
	blobs.Write(ctx, loc, []byte("updated-value"))

	got, err := blobs.Read(ctx, loc)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "updated-value" {
		t.Errorf("got %q after overwrite", got)
	}
	if blobs.Size() != int64(len("updated-value")) {
		t.Errorf("Size = %d after overwrite", blobs.Size())
	}
}

func TestMemoryBlobs_RejectsInvalidLocator(t *testing.T) {
	blobs := NewMemoryBlobs(1024)

	for _, loc := range []string{"", "/abs/path.mp3", "o/../x.mp3", "o/.hidden"} {
		if err := blobs.Write(context.Background(), loc, []byte("x")); !errors.Is(err, ErrInvalidLocator) {
			t.Errorf("Write(%q): expected ErrInvalidLocator, got %v", loc, err)
		}
	}
}

func TestMemoryBlobs_Sweep(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs(1024)

	blobs.Write(ctx, "o/s/0-keep.mp3", []byte("keep"))
	blobs.Write(ctx, "o/s/1-orphan.mp3", []byte("orphan"))

	keep := func(loc string) bool { return loc == "o/s/0-keep.mp3" }

	// Nothing is old enough yet
	res, err := blobs.Sweep(ctx, time.Now().Add(-time.Hour), keep)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.Removed != 0 {
		t.Errorf("young blobs were removed: %+v", res)
	}

	res, err = blobs.Sweep(ctx, time.Now().Add(time.Second), keep)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.Scanned != 2 || res.Removed != 1 || res.Freed != int64(len("orphan")) {
		t.Errorf("unexpected sweep result: %+v", res)
	}
	if !blobs.Contains("o/s/0-keep.mp3") || blobs.Contains("o/s/1-orphan.mp3") {
		t.Error("sweep removed the wrong blob")
	}
}

func TestMemoryBlobs_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs(10240) // 10KB

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				loc := fmt.Sprintf("w%d/s/%d-k.mp3", id, j)
				if err := blobs.Write(ctx, loc, []byte(loc)); err != nil {
					errs <- fmt.Errorf("writer %d: %v", id, err)
				}
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				// Some reads miss if the write hasn't happened yet
				blobs.Read(ctx, fmt.Sprintf("w%d/s/%d-k.mp3", id, j))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case err := <-errs:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out")
	}
}

func BenchmarkMemoryBlobs_Write(b *testing.B) {
	ctx := context.Background()
	blobs := NewMemoryBlobs(1024 * 1024) // 1MB
	value := make([]byte, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blobs.Write(ctx, fmt.Sprintf("o/s/%d-k.mp3", i), value)
	}
}
