// Package prerender synthesizes a script's partner lines ahead of rehearsal
// with a bounded pool of self-feeding workers, consulting the audio cache
// before calling the speech provider.
package prerender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/linecue/linecue/internal/script"
	"github.com/linecue/linecue/internal/synth"
)

// maxRetryAfter caps how long a provider hint can stall a worker.
const maxRetryAfter = 30 * time.Second

// Common scheduler errors
var (
	// ErrRunActive is returned when starting or resetting while a run is in progress.
	ErrRunActive = errors.New("a pre-render run is already active")

	// ErrNeedsReset is returned when starting before the previous run was reset.
	ErrNeedsReset = errors.New("previous run must be reset before starting another")

	// ErrNoRun is returned when waiting with no run started.
	ErrNoRun = errors.New("no pre-render run")

	// ErrInvalidOptions is returned for options that cannot start a run.
	ErrInvalidOptions = errors.New("invalid pre-render options")
)

// Config tunes the worker pool and retry policy.
type Config struct {
	// Concurrency is the number of workers, and so the bound on in-flight requests.
	Concurrency int

	// MaxAttempts bounds synthesis calls per line, including the first.
	MaxAttempts int

	// RetryBackoff is the fixed wait before retrying a rate-limited line.
	RetryBackoff time.Duration

	// RetryAllTransient widens retries from rate limits to every transient error.
	RetryAllTransient bool
}

// DefaultConfig returns the default pool: two workers, one retry after
// 1.5s, rate limits only.
func DefaultConfig() Config {
	return Config{
		Concurrency:  2,
		MaxAttempts:  2,
		RetryBackoff: 1500 * time.Millisecond,
	}
}

// Options describe one pre-render run.
type Options struct {
	Dialogues []script.DialogueLine

	// ActorCharacter is the character the human actor speaks; their lines
	// are never synthesized. script.ActorNone (or empty) renders every line.
	ActorCharacter string

	// VoiceID is the fallback voice; VoiceMap overrides it per character.
	VoiceID  string
	VoiceMap map[string]string

	// Speed is the speaking-rate multiplier (0 means 1.0).
	Speed float64

	// OwnerID and ScriptID enable the persistent cache when both are set
	// and the scheduler has a store.
	OwnerID  string
	ScriptID string

	// OnProgress is called after every state change, one call at a time.
	OnProgress func(Snapshot)
}

// QueueItem is one partner line moving through pre-rendering.
type QueueItem struct {
	ID          string             `json:"id"`
	Line        script.DialogueLine `json:"line"`
	VoiceID     string             `json:"voiceId"`
	Speed       float64            `json:"speed"`
	Audio       []byte             `json:"-"`
	ContentType string             `json:"contentType,omitempty"`
	FromCache   bool               `json:"fromCache"`
	Attempts    int                `json:"attempts"`
	Status      ItemStatus         `json:"status"`
	Err         string             `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID      string    `json:"runId,omitempty"`
	Status     RunStatus `json:"status"`
	Total      int       `json:"total"`
	Completed  int       `json:"progress"`
	Failures   int       `json:"failures"`
	CacheHits  int       `json:"cacheHits"`
	Generated  int       `json:"generated"`
	LastError  string    `json:"lastError,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Ready returns how many lines have audio.
func (s Snapshot) Ready() int {
	return s.CacheHits + s.Generated
}

// Fraction returns completed / total, or 1 for an empty run.
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Completed) / float64(s.Total)
}

// Summary describes partial availability, e.g. "3 of 4 lines ready, 1 failed".
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%d of %d lines ready, %d failed", s.Ready(), s.Total, s.Failures)
}

// CacheStats splits ready lines by where their audio came from.
type CacheStats struct {
	FromCache int `json:"fromCache"`
	Generated int `json:"generated"`
}

// Scheduler runs at most one pre-render at a time.
type Scheduler struct {
	client synth.Client
	store  AudioStore
	cfg    Config
	logger *log.Logger

	mu  sync.Mutex
	run *runState

	// notifyMu serializes progress delivery
	notifyMu sync.Mutex
	subs     map[chan Snapshot]struct{}
}

// New creates a scheduler. store may be nil, in which case every run
// synthesizes directly.
func New(client synth.Client, store AudioStore, cfg Config, logger *log.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger.WithPrefix("prerender"),
		subs:   make(map[chan Snapshot]struct{}),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Start begins a run in the background and returns immediately. Starting
// while a run is active leaves it untouched and returns ErrRunActive; a
// finished run must be Reset first. Cancelling ctx cancels the run
// cooperatively, like Cancel.
func (s *Scheduler) Start(ctx context.Context, opts Options) error {
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Speed < synth.MinSpeed || opts.Speed > synth.MaxSpeed {
		return fmt.Errorf("%w: speed %.2f outside %.2f-%.2f", ErrInvalidOptions, opts.Speed, synth.MinSpeed, synth.MaxSpeed)
	}

	s.mu.Lock()
	if s.run != nil {
		status := s.run.currentStatus()
		s.mu.Unlock()
		if status == StatusRunning {
			s.logger.Debug("Start ignored, run already active")
			return ErrRunActive
		}
		return ErrNeedsReset
	}
	run := newRun(opts, s.policyFor(opts))
	s.run = run
	s.mu.Unlock()

	s.logger.Info("Pre-render started", "run", run.id, "total", len(run.items),
		"actor", opts.ActorCharacter, "cache", run.policy.Name(), "workers", s.cfg.Concurrency)
	s.notify(run)

	// The run outlives the caller's request; cancellation stays cooperative.
	stop := context.AfterFunc(ctx, func() { run.cancel() })
	go s.execute(context.WithoutCancel(ctx), run, stop)
	return nil
}

// Cancel stops the active run from picking up new lines. In-flight lines
// finish, then the run ends as cancelled. It is a no-op with no active run.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run != nil && run.cancel() {
		s.logger.Info("Pre-render cancelling", "run", run.id)
	}
}

// Reset releases the previous run's audio and zeroes all counters. It
// returns ErrRunActive while a run is in progress.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	if s.run != nil && s.run.currentStatus() == StatusRunning {
		s.mu.Unlock()
		return ErrRunActive
	}
	s.run = nil
	s.mu.Unlock()

	s.notify(nil)
	return nil
}

// Wait blocks until the active run ends or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return Snapshot{Status: StatusIdle}, ErrNoRun
	}

	select {
	case <-run.done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return run.snapshot(), ctx.Err()
	}
}

// Snapshot returns the current run state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return Snapshot{Status: StatusIdle}
	}
	return run.snapshot()
}

// Items returns copies of the run's queue items in script order.
func (s *Scheduler) Items() []QueueItem {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return nil
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]QueueItem, len(run.items))
	copy(out, run.items)
	return out
}

// Item returns the queue item for a script line index.
func (s *Scheduler) Item(lineIndex int) (QueueItem, bool) {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return QueueItem{}, false
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	pos, ok := run.byLine[lineIndex]
	if !ok {
		return QueueItem{}, false
	}
	return run.items[pos], true
}

// Audio returns the ready audio for a script line index.
func (s *Scheduler) Audio(lineIndex int) ([]byte, bool) {
	item, ok := s.Item(lineIndex)
	if !ok || item.Status != ItemReady {
		return nil, false
	}
	return item.Audio, true
}

// AudioByIndex returns every ready line's audio keyed by script line index.
func (s *Scheduler) AudioByIndex() map[int][]byte {
	out := make(map[int][]byte)
	for _, item := range s.Items() {
		if item.Status == ItemReady {
			out[item.Line.LineIndex] = item.Audio
		}
	}
	return out
}

// CacheStats returns where the current run's ready audio came from.
func (s *Scheduler) CacheStats() CacheStats {
	snap := s.Snapshot()
	return CacheStats{FromCache: snap.CacheHits, Generated: snap.Generated}
}

// Subscribe returns a channel receiving snapshots as the run progresses.
// Slow readers only ever miss intermediate snapshots, never the latest.
// The returned func unsubscribes and closes the channel.
func (s *Scheduler) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- s.Snapshot()

	s.notifyMu.Lock()
	s.subs[ch] = struct{}{}
	s.notifyMu.Unlock()

	return ch, func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Scheduler) policyFor(opts Options) CachingPolicy {
	if s.store == nil || opts.ScriptID == "" || opts.OwnerID == "" {
		return NoCache{}
	}
	return &PersistentCache{
		Cache:    s.store,
		OwnerID:  opts.OwnerID,
		ScriptID: opts.ScriptID,
		Logger:   s.logger,
	}
}

func (s *Scheduler) execute(ctx context.Context, run *runState, stop func() bool) {
	defer close(run.done)
	defer stop()

	workers := min(s.cfg.Concurrency, len(run.items))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker %d panicked: %v", w, r)
				}
			}()
			s.work(ctx, run, w)
			return nil
		})
	}

	err := g.Wait()
	snap := run.end(err)

	if err != nil {
		s.logger.Error("Pre-render failed", "run", run.id, "err", err)
	}
	s.logger.Info("Pre-render finished", "run", run.id, "status", snap.Status,
		"ready", snap.Ready(), "total", snap.Total, "failures", snap.Failures,
		"cacheHits", snap.CacheHits, "elapsed", snap.FinishedAt.Sub(snap.StartedAt))
	s.notify(run)
}

// work pulls lines from the shared cursor until the work set is drained or
// the run is cancelled.
func (s *Scheduler) work(ctx context.Context, run *runState, worker int) {
	for {
		pos, item, ok := run.next()
		if !ok {
			return
		}
		s.notify(run)
		run.resolve(pos, s.render(ctx, run, worker, item))
		s.notify(run)
	}
}

type outcome struct {
	audio       []byte
	contentType string
	fromCache   bool
	attempts    int
	err         error
}

func (s *Scheduler) render(ctx context.Context, run *runState, worker int, item QueueItem) outcome {
	line := item.Line
	logger := s.logger.With("run", run.id, "worker", worker, "line", line.LineIndex)

	if audio, contentType, ok := run.policy.Lookup(ctx, line, item.VoiceID, item.Speed); ok {
		logger.Debug("Cache hit")
		return outcome{audio: audio, contentType: contentType, fromCache: true}
	}

	start := time.Now()
	res, attempts, err := s.synthesize(ctx, item, logger)
	if err != nil {
		logger.Warn("Line failed", "attempts", attempts, "err", err)
		return outcome{attempts: attempts, err: err}
	}
	logger.Debug("Synthesized", "attempts", attempts, "bytes", len(res.Audio), "elapsed", time.Since(start))

	if err := run.policy.Store(ctx, line, item.VoiceID, item.Speed, res); err != nil {
		logger.Warn("Cache write failed, audio kept for this session", "err", err)
	}

	return outcome{audio: res.Audio, contentType: res.ContentType, attempts: attempts}
}

// synthesize calls the provider, retrying retryable failures after a fixed
// backoff until MaxAttempts calls have been made.
func (s *Scheduler) synthesize(ctx context.Context, item QueueItem, logger *log.Logger) (*synth.Result, int, error) {
	req := synth.Request{Text: item.Line.Text, VoiceID: item.VoiceID, Speed: item.Speed}

	for attempt := 1; ; attempt++ {
		res, err := s.client.Synthesize(ctx, req)
		if err == nil {
			return res, attempt, nil
		}
		if attempt >= s.cfg.MaxAttempts || !s.retryable(err) {
			return nil, attempt, err
		}

		backoff := s.backoff(err)
		logger.Debug("Retrying after backoff", "attempt", attempt, "backoff", backoff, "err", err)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return nil, attempt, err
		}
	}
}

// backoff is the configured delay, stretched to a provider's Retry-After
// hint up to maxRetryAfter.
func (s *Scheduler) backoff(err error) time.Duration {
	var te *synth.TransientError
	if errors.As(err, &te) && te.RetryAfter > s.cfg.RetryBackoff {
		return min(te.RetryAfter, maxRetryAfter)
	}
	return s.cfg.RetryBackoff
}

func (s *Scheduler) retryable(err error) bool {
	if synth.IsRateLimited(err) {
		return true
	}
	return s.cfg.RetryAllTransient && synth.IsTransient(err)
}

// notify delivers the current snapshot to the progress callback and
// subscribers. Snapshots are taken under notifyMu so deliveries never go
// backwards.
func (s *Scheduler) notify(run *runState) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap := Snapshot{Status: StatusIdle}
	var onProgress func(Snapshot)
	if run != nil {
		snap = run.snapshot()
		onProgress = run.opts.OnProgress
	}

	if onProgress != nil {
		onProgress(snap)
	}

	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the latest one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runState is owned by one run. All item and counter mutation happens
// under mu.
type runState struct {
	id     string
	opts   Options
	policy CachingPolicy
	done   chan struct{}

	mu         sync.Mutex
	status     RunStatus
	items      []QueueItem
	byLine     map[int]int
	cursor     int
	aborted    bool
	completed  int
	failures   int
	cacheHits  int
	generated  int
	lastError  string
	startedAt  time.Time
	finishedAt time.Time
}

func newRun(opts Options, policy CachingPolicy) *runState {
	run := &runState{
		id:        uuid.NewString(),
		opts:      opts,
		policy:    policy,
		done:      make(chan struct{}),
		status:    StatusRunning,
		byLine:    make(map[int]int),
		startedAt: time.Now(),
	}

	// Lines the actor speaks never enter the work set.
	for _, line := range opts.Dialogues {
		if line.IsSpokenBy(opts.ActorCharacter) {
			continue
		}
		run.byLine[line.LineIndex] = len(run.items)
		run.items = append(run.items, QueueItem{
			ID:      uuid.NewString(),
			Line:    line,
			VoiceID: resolveVoice(opts, line.Character),
			Speed:   opts.Speed,
			Status:  ItemPending,
		})
	}
	return run
}

// VoiceFor returns the voice a character's lines are rendered with.
func (o Options) VoiceFor(character string) string {
	return resolveVoice(o, character)
}

func resolveVoice(opts Options, character string) string {
	if v, ok := opts.VoiceMap[character]; ok && v != "" {
		return v
	}
	for name, v := range opts.VoiceMap {
		if v != "" && strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(character)) {
			return v
		}
	}
	return opts.VoiceID
}

// next claims the next pending line, or reports false when the work set is
// drained or the run was cancelled.
func (r *runState) next() (int, QueueItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted || r.cursor >= len(r.items) {
		return 0, QueueItem{}, false
	}
	pos := r.cursor
	r.cursor++
	r.items[pos].Status = ItemGenerating
	return pos, r.items[pos], true
}

func (r *runState) resolve(pos int, o outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := &r.items[pos]
	item.Attempts = o.attempts
	switch {
	case o.err != nil:
		item.Status = ItemError
		item.Err = o.err.Error()
		r.failures++
		r.lastError = fmt.Sprintf("line %d: %v", item.Line.LineIndex, o.err)
	case o.fromCache:
		item.Status = ItemReady
		item.Audio = o.audio
		item.ContentType = o.contentType
		item.FromCache = true
		r.cacheHits++
	default:
		item.Status = ItemReady
		item.Audio = o.audio
		item.ContentType = o.contentType
		r.generated++
	}
	r.completed++
}

// cancel sets the abort flag and reports whether it changed anything.
func (r *runState) cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.aborted || r.status != StatusRunning {
		return false
	}
	r.aborted = true
	return true
}

func (r *runState) end(err error) Snapshot {
	r.mu.Lock()
	switch {
	case err != nil:
		r.status = StatusError
		r.lastError = err.Error()
	case r.aborted:
		r.status = StatusCancelled
	default:
		r.status = StatusCompleted
	}
	r.finishedAt = time.Now()
	r.mu.Unlock()

	return r.snapshot()
}

func (r *runState) currentStatus() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *runState) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Snapshot{
		RunID:      r.id,
		Status:     r.status,
		Total:      len(r.items),
		Completed:  r.completed,
		Failures:   r.failures,
		CacheHits:  r.cacheHits,
		Generated:  r.generated,
		LastError:  r.lastError,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
}
