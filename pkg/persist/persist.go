package persist

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/CTAG07/talklike/pkg/markov"
)

// Persister saves and loads every chain in a store.
type Persister interface {
	// Save durably writes the snapshot. On failure the previously saved state
	// must remain readable.
	Save(ctx context.Context, snapshot map[markov.UserID]*markov.Chain) error
	// Load returns a store of the given order. A missing location yields an
	// empty store and no error.
	Load(ctx context.Context, order int) (*markov.Store, *LoadReport, error)
	// Name identifies the backend in logs.
	Name() string
}

// SkippedEntry is one stored chain that could not be restored.
type SkippedEntry struct {
	Entry  string `json:"entry"`
	Reason string `json:"reason"`
}

// LoadReport describes what a Load recovered.
type LoadReport struct {
	Loaded  int            `json:"loaded"`
	Skipped []SkippedEntry `json:"skipped,omitempty"`
	// Corrupt is set when the whole location was unreadable as a store and an
	// empty store was returned in its place.
	Corrupt bool `json:"corrupt"`
}

func (r *LoadReport) skip(logger *slog.Logger, entry string, err error) {
	r.Skipped = append(r.Skipped, SkippedEntry{Entry: entry, Reason: err.Error()})
	logger.Warn("Skipping stored chain", slog.String("entry", entry), slog.Any("error", err))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// restore validates an exported chain and installs it in the store.
func restore(store *markov.Store, user markov.UserID, exported *markov.ExportedChain) error {
	c, err := markov.ImportChain(exported)
	if err != nil {
		return err
	}
	if c.Order() != store.Order() {
		return fmt.Errorf("%w: stored order %d, configured %d", markov.ErrOrderMismatch, c.Order(), store.Order())
	}
	return store.Put(user, c)
}

// New returns the backend named by kind ("json", "dir" or "sqlite") for path.
func New(kind, path string) (Persister, error) {
	switch kind {
	case "json", "":
		return NewJSONFile(path), nil
	case "dir":
		return NewDir(path), nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", kind)
	}
}
