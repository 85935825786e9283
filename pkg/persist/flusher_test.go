package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPersister records saves and optionally fails them.
type countingPersister struct {
	mu    sync.Mutex
	saves int
	users int
	fail  error
}

func (p *countingPersister) Save(_ context.Context, snapshot map[markov.UserID]*markov.Chain) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.saves++
	p.users = len(snapshot)
	return nil
}

func (p *countingPersister) Load(_ context.Context, order int) (*markov.Store, *LoadReport, error) {
	s, err := markov.NewStore(order)
	return s, &LoadReport{}, err
}

func (p *countingPersister) Name() string { return "counting" }

func (p *countingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func TestFlusherDirtyTracking(t *testing.T) {
	ctx := context.Background()
	store := trainedStore(t, 1)
	p := &countingPersister{}
	f := NewFlusher(store, p)

	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 0, p.count(), "clean store should not be saved")
	assert.True(t, f.LastFlush().IsZero())

	f.MarkDirty()
	assert.True(t, f.Dirty())
	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 1, p.count())
	assert.Equal(t, 4, p.users)
	assert.False(t, f.Dirty())
	assert.False(t, f.LastFlush().IsZero())

	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 1, p.count())
}

func TestFlusherFailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	p := &countingPersister{fail: boom}
	f := NewFlusher(trainedStore(t, 1), p)

	f.MarkDirty()
	err := f.Flush(ctx)
	require.ErrorIs(t, err, boom)
	assert.True(t, f.Dirty())

	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()
	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 1, p.count())
}

func TestFlusherSchedule(t *testing.T) {
	p := &countingPersister{}
	f := NewFlusher(trainedStore(t, 1), p)

	require.NoError(t, f.Start("@every 1s"))
	require.Error(t, f.Start("@every 1s"), "second start should fail")

	f.MarkDirty()
	require.Eventually(t, func() bool { return p.count() == 1 }, 5*time.Second, 50*time.Millisecond)

	f.MarkDirty()
	require.NoError(t, f.Stop(context.Background()))
	assert.Equal(t, 2, p.count(), "stop should perform a final flush")
	assert.False(t, f.Dirty())
}

func TestFlusherInvalidSchedule(t *testing.T) {
	f := NewFlusher(trainedStore(t, 1), &countingPersister{})
	assert.Error(t, f.Start("every now and then"))
	require.NoError(t, f.Stop(context.Background()))
}

func TestFlusherStopWithoutStart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store := trainedStore(t, 2)
	f := NewFlusher(store, NewJSONFile(path))

	f.MarkDirty()
	require.NoError(t, f.Stop(ctx))

	loaded, _, err := NewJSONFile(path).Load(ctx, 2)
	require.NoError(t, err)
	assertSameStore(t, store, loaded)
}

func TestFlusherConcurrentFlushes(t *testing.T) {
	ctx := context.Background()
	p := &countingPersister{}
	store := trainedStore(t, 1)
	f := NewFlusher(store, p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Train(markov.UserID(i), []string{"hello"})
			f.MarkDirty()
			assert.NoError(t, f.Flush(ctx))
		}(i)
	}
	wg.Wait()

	assert.False(t, f.Dirty())
	assert.GreaterOrEqual(t, p.count(), 1)
	assert.LessOrEqual(t, p.count(), 10)
}
