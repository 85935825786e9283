package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"
)

// ChainExt is the extension of per-user chain files.
const ChainExt = ".chain"

// defaultDirConcurrency bounds how many chain files are read or written at once.
const defaultDirConcurrency = 8

// Dir stores each user's chain in its own "<user>.chain" file.
type Dir struct {
	path        string
	concurrency int
	logger      *slog.Logger
}

// NewDir returns a Dir backend rooted at path.
func NewDir(path string) *Dir {
	return &Dir{path: path, concurrency: defaultDirConcurrency, logger: discardLogger()}
}

// SetLogger sets the logger for skipped entries and saves.
func (d *Dir) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// SetConcurrency sets how many files are processed in parallel. Values below 1
// are ignored.
func (d *Dir) SetConcurrency(n int) {
	if n > 0 {
		d.concurrency = n
	}
}

// Name implements Persister.
func (d *Dir) Name() string { return "dir" }

func (d *Dir) chainPath(user markov.UserID) string {
	return filepath.Join(d.path, user.String()+ChainExt)
}

// Save implements Persister. Each file is replaced atomically; a failure part
// way through leaves every file either at its old or its new content.
func (d *Dir) Save(ctx context.Context, snapshot map[markov.UserID]*markov.Chain) error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.path, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for user, c := range snapshot {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := c.WriteJSON(&buf); err != nil {
				return fmt.Errorf("failed to encode chain for user %s: %w", user, err)
			}
			if err := atomic.WriteFile(d.chainPath(user), &buf); err != nil {
				return fmt.Errorf("failed to write chain for user %s: %w", user, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.logger.Debug("Store saved", slog.String("path", d.path), slog.Int("users", len(snapshot)))
	return nil
}

type dirEntry struct {
	name     string
	user     markov.UserID
	exported *markov.ExportedChain
	err      error
}

// Load implements Persister. Files whose stem is not a user id, or whose
// content does not decode to a valid chain, are skipped.
func (d *Dir) Load(ctx context.Context, order int) (*markov.Store, *LoadReport, error) {
	store, err := markov.NewStore(order)
	if err != nil {
		return nil, nil, err
	}
	report := &LoadReport{}

	files, err := os.ReadDir(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return store, report, nil
	}
	if err != nil {
		return store, report, fmt.Errorf("failed to read directory %s: %w", d.path, err)
	}

	var entries []*dirEntry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ChainExt {
			continue
		}
		stem := strings.TrimSuffix(f.Name(), ChainExt)
		user, err := markov.ParseUserID(stem)
		if err == nil && user.String() != stem {
			err = fmt.Errorf("file name %q is not a canonical user id", stem)
		}
		if err != nil {
			report.skip(d.logger, f.Name(), err)
			continue
		}
		entries = append(entries, &dirEntry{name: f.Name(), user: user})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(d.path, e.name))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", e.name, err)
			}
			var exported markov.ExportedChain
			if err := json.Unmarshal(data, &exported); err != nil {
				e.err = err
				return nil
			}
			e.exported = &exported
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return store, report, err
	}

	for _, e := range entries {
		if e.err == nil {
			e.err = restore(store, e.user, e.exported)
		}
		if e.err != nil {
			report.skip(d.logger, e.name, e.err)
			continue
		}
		report.Loaded++
	}
	return store, report, nil
}
