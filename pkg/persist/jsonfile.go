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

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/natefinch/atomic"
)

// JSONFile stores every chain in one JSON document keyed by decimal user id.
type JSONFile struct {
	path   string
	logger *slog.Logger
}

// NewJSONFile returns a JSONFile backend writing to path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path, logger: discardLogger()}
}

// SetLogger sets the logger for skipped entries and saves.
func (j *JSONFile) SetLogger(logger *slog.Logger) {
	j.logger = logger
}

// Name implements Persister.
func (j *JSONFile) Name() string { return "json" }

// Save implements Persister. The document is written to a temporary file and
// renamed over the previous one.
func (j *JSONFile) Save(ctx context.Context, snapshot map[markov.UserID]*markov.Chain) error {
	doc := make(map[string]*markov.ExportedChain, len(snapshot))
	for user, c := range snapshot {
		doc[user.String()] = c.Export()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := atomic.WriteFile(j.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", j.path, err)
	}
	j.logger.Debug("Store saved", slog.String("path", j.path), slog.Int("users", len(doc)))
	return nil
}

// Load implements Persister.
func (j *JSONFile) Load(_ context.Context, order int) (*markov.Store, *LoadReport, error) {
	store, err := markov.NewStore(order)
	if err != nil {
		return nil, nil, err
	}
	report := &LoadReport{}

	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return store, report, nil
	}
	if err != nil {
		return store, report, fmt.Errorf("failed to read %s: %w", j.path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		report.Corrupt = true
		j.logger.Error("Stored document is corrupt, starting empty", slog.String("path", j.path), slog.Any("error", err))
		return store, report, nil
	}

	for key, raw := range doc {
		user, err := markov.ParseUserID(key)
		if err != nil {
			report.skip(j.logger, key, err)
			continue
		}
		var exported markov.ExportedChain
		if err := json.Unmarshal(raw, &exported); err != nil {
			report.skip(j.logger, key, err)
			continue
		}
		if err := restore(store, user, &exported); err != nil {
			report.skip(j.logger, key, err)
			continue
		}
		report.Loaded++
	}
	return store, report, nil
}
