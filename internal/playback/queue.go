// Package playback sequences ready line audio through a Player, one line at
// a time, either on demand or in script order.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/linecue/linecue/internal/audio"
	"github.com/linecue/linecue/internal/prerender"
)

// Common queue errors
var (
	// ErrNotReady is returned when playing a line whose audio is not ready.
	ErrNotReady = errors.New("line audio is not ready")

	// ErrIndexOutOfRange is returned for an index outside the queue.
	ErrIndexOutOfRange = errors.New("queue index out of range")

	// ErrHalted is returned by PlaySequential when Stop ended the sequence.
	ErrHalted = errors.New("playback halted")
)

// Player plays one encoded payload at a time. The done channel receives
// exactly one value: nil on natural end, audio.ErrStopped when interrupted,
// or the playback error.
type Player interface {
	Start(payload []byte) (<-chan error, error)
	Stop() error
	Close() error
}

var (
	_ Player = (*audio.Player)(nil)
	_ Player = (*audio.MockPlayer)(nil)
)

// Item is one line in the playback queue.
type Item struct {
	LineIndex int
	Character string
	Text      string
	Audio     []byte
	Status    prerender.ItemStatus
	Err       error
}

// Queue owns the playback state of a set of lines. Only one item plays at
// a time.
type Queue struct {
	player Player
	logger *log.Logger

	mu      sync.Mutex
	items   []Item
	current int    // playing position, -1 when idle
	gen     uint64 // bumped on every start and stop
	halted  bool
}

// NewQueue creates a queue over items, in the order given.
func NewQueue(player Player, items []Item, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}

	owned := make([]Item, len(items))
	copy(owned, items)

	return &Queue{
		player:  player,
		logger:  logger.WithPrefix("playback"),
		items:   owned,
		current: -1,
	}
}

// FromScheduler builds a queue from the scheduler's current run, in script
// order. Lines that failed or are still rendering keep their status and are
// skipped by sequential playback.
func FromScheduler(player Player, s *prerender.Scheduler, logger *log.Logger) *Queue {
	runItems := s.Items()
	items := make([]Item, 0, len(runItems))
	for _, it := range runItems {
		item := Item{
			LineIndex: it.Line.LineIndex,
			Character: it.Line.Character,
			Text:      it.Line.Text,
			Audio:     it.Audio,
			Status:    it.Status,
		}
		if it.Err != "" {
			item.Err = errors.New(it.Err)
		}
		items = append(items, item)
	}
	return NewQueue(player, items, logger)
}

// Len returns the number of items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queue items.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Status returns the status of the item at index.
func (q *Queue) Status(index int) (prerender.ItemStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return q.items[index].Status, nil
}

// Current returns the playing index, if any.
func (q *Queue) Current() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current, q.current >= 0
}

// PlayLine starts playing the item at index, stopping whatever is playing.
// It returns once playback has begun.
func (q *Queue) PlayLine(index int) error {
	_, err := q.start(index)
	return err
}

// PlaySequential plays ready items in order from start, waiting for each to
// complete or fail before moving on. Items that are not ready are skipped.
// Stop halts the sequence; the halt is observed before each advance.
func (q *Queue) PlaySequential(ctx context.Context, start int) error {
	q.mu.Lock()
	if start < 0 || start >= len(q.items) {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, start)
	}
	q.halted = false
	n := len(q.items)
	q.mu.Unlock()

	for i := start; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.isHalted() {
			q.logger.Debug("Sequence halted", "next", i)
			return ErrHalted
		}

		finished, err := q.start(i)
		if errors.Is(err, ErrNotReady) {
			q.logger.Debug("Skipping line without audio", "index", i)
			continue
		}
		if err != nil {
			q.logger.Warn("Playback failed to start", "index", i, "err", err)
			continue
		}

		select {
		case <-finished:
		case <-ctx.Done():
			q.Stop()
			<-finished
			return ctx.Err()
		}
	}
	return nil
}

// Stop interrupts the playing item, which returns to ready, and halts any
// sequence. It is safe to call at any time.
func (q *Queue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.halted = true
	return q.stopLocked()
}

// Close stops playback and releases the player.
func (q *Queue) Close() error {
	if err := q.Stop(); err != nil {
		return err
	}
	return q.player.Close()
}

func (q *Queue) isHalted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

func (q *Queue) stopLocked() error {
	if q.current >= 0 {
		q.transition(q.current, prerender.ItemReady, nil)
		q.current = -1
	}
	q.gen++
	return q.player.Stop()
}

// start begins playback of index and returns a channel closed once the
// item has left the playing state.
func (q *Queue) start(index int) (<-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.items) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if q.items[index].Status != prerender.ItemReady {
		return nil, fmt.Errorf("%w: line %d is %s", ErrNotReady, q.items[index].LineIndex, q.items[index].Status)
	}

	if err := q.stopLocked(); err != nil {
		q.logger.Warn("Failed to stop current line", "err", err)
	}

	done, err := q.player.Start(q.items[index].Audio)
	if err != nil {
		q.transition(index, prerender.ItemError, err)
		return nil, err
	}

	q.transition(index, prerender.ItemPlaying, nil)
	q.current = index
	q.gen++

	finished := make(chan struct{})
	go q.await(index, q.gen, done, finished)
	return finished, nil
}

// await applies the end-of-playback transition unless the item was stopped
// or replaced in the meantime.
func (q *Queue) await(index int, gen uint64, done <-chan error, finished chan<- struct{}) {
	err := <-done

	q.mu.Lock()
	if q.gen == gen && q.current == index {
		q.current = -1
		switch {
		case err == nil:
			q.transition(index, prerender.ItemCompleted, nil)
		case errors.Is(err, audio.ErrStopped):
			q.transition(index, prerender.ItemReady, nil)
		default:
			q.logger.Warn("Playback failed", "line", q.items[index].LineIndex, "err", err)
			q.transition(index, prerender.ItemError, err)
		}
	}
	q.mu.Unlock()

	close(finished)
}

func (q *Queue) transition(index int, next prerender.ItemStatus, err error) {
	item := &q.items[index]
	if !item.Status.CanTransition(next) {
		q.logger.Debug("Ignoring invalid transition", "line", item.LineIndex, "from", item.Status, "to", next)
		return
	}
	item.Status = next
	item.Err = err
}
