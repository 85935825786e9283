package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/robfig/cron/v3"
)

// DefaultFlushSchedule is the cron schedule used when none is configured.
const DefaultFlushSchedule = "@every 1m"

// Flusher saves a store through a Persister whenever it has changed. Saves
// are serialized, so a scheduled flush and an explicit flush never overlap.
type Flusher struct {
	store     *markov.Store
	persister Persister
	logger    *slog.Logger

	mu        sync.Mutex // held for the duration of a save
	dirty     atomic.Bool
	lastFlush atomic.Int64

	cronMu  sync.Mutex
	cron    *cron.Cron
	jobLock sync.Mutex
	cancel  context.CancelFunc
}

// NewFlusher returns a Flusher for store. It does not schedule anything until
// Start is called.
func NewFlusher(store *markov.Store, persister Persister) *Flusher {
	return &Flusher{
		store:     store,
		persister: persister,
		logger:    discardLogger(),
	}
}

// SetLogger sets the logger for flush results.
func (f *Flusher) SetLogger(logger *slog.Logger) {
	f.logger = logger
}

// MarkDirty records that the store has changed since the last save.
func (f *Flusher) MarkDirty() {
	f.dirty.Store(true)
}

// Dirty reports whether the store has unsaved changes.
func (f *Flusher) Dirty() bool {
	return f.dirty.Load()
}

// LastFlush returns the time of the last successful save, or the zero time.
func (f *Flusher) LastFlush() time.Time {
	ns := f.lastFlush.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Flush saves a snapshot of the store if it is dirty. On failure the store is
// marked dirty again so the next flush retries.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty.Swap(false) {
		return nil
	}

	start := time.Now()
	snapshot := f.store.Snapshot()
	if err := f.persister.Save(ctx, snapshot); err != nil {
		f.dirty.Store(true)
		return fmt.Errorf("%s save failed: %w", f.persister.Name(), err)
	}
	f.lastFlush.Store(time.Now().UnixNano())
	f.logger.Info("Store flushed",
		slog.String("backend", f.persister.Name()),
		slog.Int("users", len(snapshot)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Start schedules periodic flushes. An empty schedule uses DefaultFlushSchedule.
// Both five-field cron expressions and descriptors such as "@every 30s" are
// accepted. A tick that fires while the previous flush is still running is
// skipped.
func (f *Flusher) Start(schedule string) error {
	f.cronMu.Lock()
	defer f.cronMu.Unlock()

	if f.cron != nil {
		return fmt.Errorf("flusher already started")
	}
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	_, err := c.AddFunc(schedule, func() {
		if !f.jobLock.TryLock() {
			f.logger.Warn("Flush still running, skipping tick")
			return
		}
		defer f.jobLock.Unlock()

		if err := f.Flush(ctx); err != nil {
			f.logger.Error("Scheduled flush failed", slog.Any("error", err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
	}

	f.cron = c
	f.cancel = cancel
	c.Start()
	f.logger.Info("Flusher started", slog.String("schedule", schedule), slog.String("backend", f.persister.Name()))
	return nil
}

// Stop halts the schedule, waits for an in-flight flush, and then performs a
// final flush with ctx. It is safe to call without Start.
func (f *Flusher) Stop(ctx context.Context) error {
	f.cronMu.Lock()
	c, cancel := f.cron, f.cancel
	f.cron, f.cancel = nil, nil
	f.cronMu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}
		cancel()
		f.logger.Info("Flusher stopped")
	}
	return f.Flush(ctx)
}
