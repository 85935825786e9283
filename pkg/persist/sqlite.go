package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CTAG07/talklike/pkg/markov"
)

const defaultBusyTimeout = 5000

// SetupSchema initializes the chain tables in the provided database. It is
// idempotent and safe to call on an already-initialized database.
//
// Each model is one user's chain. Token ids are local to a model, so the
// vocabulary is keyed by (model_id, token_id); ids 0 and 1 are the sentinels
// and are never stored. Frequencies are stored as the int64 bit pattern of the
// uint64 count.
func SetupSchema(db *sql.DB) error {

	const (
		schemaVocab = `
CREATE TABLE IF NOT EXISTS markov_vocabulary (
    model_id INTEGER NOT NULL,
    token_id INTEGER NOT NULL,
    token_text TEXT NOT NULL,
    PRIMARY KEY (model_id, token_id)
);
`
		schemaPrefixes = `
CREATE TABLE IF NOT EXISTS markov_prefixes (
	prefix_id INTEGER PRIMARY KEY,
	prefix_text TEXT NOT NULL UNIQUE
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS markov_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL
);
`
		schemaChains = `
CREATE TABLE IF NOT EXISTS markov_chains (
    model_id INTEGER NOT NULL,
    prefix_id INTEGER NOT NULL,
    next_token_id INTEGER NOT NULL,
    frequency  INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, prefix_id, next_token_id)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaVocab, schemaPrefixes, schemaModels, schemaChains} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// SQLite stores every chain in one SQLite database. A save rewrites the tables
// inside a single transaction, so the commit is the atomic publish.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// movedAside is where an unreadable database was moved by OpenSQLite. The
	// next Load reports it as corrupt.
	movedAside string
	openErr    error
}

// OpenSQLite opens or creates the database at path and migrates its schema.
// The database uses WAL mode, a busy timeout, and a single connection.
//
// If an existing file cannot be opened as a database it is renamed to
// "<path>.corrupt-<unix time>" and a fresh database is created in its place;
// the next Load reports the store as corrupt.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := openSchema(path)
	if err == nil {
		return &SQLite{db: db, path: path, logger: discardLogger()}, nil
	}

	info, statErr := os.Stat(path)
	if statErr != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return nil, err
	}
	moved := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if renameErr := os.Rename(path, moved); renameErr != nil {
		return nil, fmt.Errorf("%w (could not move it aside: %v)", err, renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if renameErr := os.Rename(path+suffix, moved+suffix); renameErr != nil && !os.IsNotExist(renameErr) {
			return nil, fmt.Errorf("%w (could not move %s aside: %v)", err, path+suffix, renameErr)
		}
	}

	db, freshErr := openSchema(path)
	if freshErr != nil {
		return nil, freshErr
	}
	return &SQLite{db: db, path: path, logger: discardLogger(), movedAside: moved, openErr: err}, nil
}

func openSchema(path string) (*sql.DB, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if err := SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SetLogger sets the logger for skipped entries and saves.
func (s *SQLite) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Name implements Persister.
func (s *SQLite) Name() string { return "sqlite" }

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save implements Persister.
func (s *SQLite) Save(ctx context.Context, snapshot map[markov.UserID]*markov.Chain) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, table := range []string{"markov_chains", "markov_vocabulary", "markov_prefixes", "markov_models"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("could not clear %s: %w", table, err)
		}
	}

	stmtAddModel, err := tx.PrepareContext(ctx, `INSERT INTO markov_models (model_id, model_name, model_order) VALUES (?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmtAddModel.Close()
	stmtInsertVocab, err := tx.PrepareContext(ctx, `INSERT INTO markov_vocabulary (model_id, token_id, token_text) VALUES (?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmtInsertVocab.Close()
	stmtInsertPrefix, err := tx.PrepareContext(ctx, `INSERT INTO markov_prefixes (prefix_id, prefix_text) VALUES (?, ?);`)
	if err != nil {
		return err
	}
	defer stmtInsertPrefix.Close()
	stmtInsertLink, err := tx.PrepareContext(ctx, `INSERT INTO markov_chains (model_id, prefix_id, next_token_id, frequency) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmtInsertLink.Close()

	prefixIDs := make(map[string]int64)
	var modelID int64
	for user, c := range snapshot {
		modelID++
		exported := c.Export()
		if _, err := stmtAddModel.ExecContext(ctx, modelID, user.String(), exported.Order); err != nil {
			return fmt.Errorf("could not insert model for user %s: %w", user, err)
		}
		for id := 2; id < len(exported.Vocabulary); id++ {
			if _, err := stmtInsertVocab.ExecContext(ctx, modelID, id, exported.Vocabulary[id]); err != nil {
				return fmt.Errorf("could not insert vocabulary for user %s: %w", user, err)
			}
		}
		for prefix, next := range exported.Transitions {
			prefixID, ok := prefixIDs[prefix]
			if !ok {
				prefixID = int64(len(prefixIDs) + 1)
				prefixIDs[prefix] = prefixID
				if _, err := stmtInsertPrefix.ExecContext(ctx, prefixID, prefix); err != nil {
					return fmt.Errorf("could not insert prefix: %w", err)
				}
			}
			for idStr, count := range next {
				nextID, _ := strconv.Atoi(idStr)
				if _, err := stmtInsertLink.ExecContext(ctx, modelID, prefixID, nextID, int64(count)); err != nil {
					return fmt.Errorf("could not insert link for user %s: %w", user, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	s.logger.Debug("Store saved", slog.String("path", s.path), slog.Int("users", len(snapshot)))
	return nil
}

type storedModel struct {
	id    int64
	name  string
	order int
	// invalid is set when the row's columns could not be read as a model.
	invalid error
}

// Load implements Persister. Models whose name is not a user id, whose order
// differs, or whose rows do not form a valid chain are skipped.
func (s *SQLite) Load(ctx context.Context, order int) (*markov.Store, *LoadReport, error) {
	store, err := markov.NewStore(order)
	if err != nil {
		return nil, nil, err
	}
	report := &LoadReport{}

	if s.movedAside != "" {
		report.Corrupt = true
		s.logger.Error("Database was unreadable and has been moved aside, starting empty",
			slog.String("path", s.path),
			slog.String("moved_to", s.movedAside),
			slog.Any("error", s.openErr),
		)
		s.movedAside, s.openErr = "", nil
	}

	models, err := s.models(ctx)
	if err != nil {
		return store, report, err
	}

	for _, m := range models {
		if m.invalid != nil {
			report.skip(s.logger, m.name, m.invalid)
			continue
		}
		user, err := markov.ParseUserID(m.name)
		if err != nil {
			report.skip(s.logger, m.name, err)
			continue
		}
		exported, invalid, err := s.loadModel(ctx, m)
		if err != nil {
			return store, report, err
		}
		if invalid == nil {
			invalid = restore(store, user, exported)
		}
		if invalid != nil {
			report.skip(s.logger, m.name, invalid)
			continue
		}
		report.Loaded++
	}
	return store, report, nil
}

// models lists every stored model. Columns are scanned loosely so that one
// malformed row marks only that model invalid.
func (s *SQLite) models(ctx context.Context) ([]storedModel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id, model_name, model_order FROM markov_models ORDER BY model_id;`)
	if err != nil {
		return nil, fmt.Errorf("could not query models: %w", err)
	}
	defer rows.Close()

	var models []storedModel
	for rows.Next() {
		var id, name, order any
		if err := rows.Scan(&id, &name, &order); err != nil {
			return nil, fmt.Errorf("could not scan model: %w", err)
		}
		var m storedModel
		m.name = columnText(name)
		var modelOrder int64
		if m.id, err = columnInt(id); err != nil {
			m.invalid = fmt.Errorf("model_id: %w", err)
		} else if modelOrder, err = columnInt(order); err != nil {
			m.invalid = fmt.Errorf("model_order: %w", err)
		}
		m.order = int(modelOrder)
		models = append(models, m)
	}
	return models, rows.Err()
}

// loadModel reads one model's rows into an ExportedChain. invalid is set when
// a row cannot be read or the vocabulary is not contiguous from id 2; err
// reports query failures.
func (s *SQLite) loadModel(ctx context.Context, m storedModel) (exported *markov.ExportedChain, invalid error, err error) {
	exported = &markov.ExportedChain{
		Order:       m.order,
		Vocabulary:  []string{markov.SOCTokenText, markov.EOCTokenText},
		Transitions: make(map[string]map[string]uint64),
	}
	setInvalid := func(err error) {
		if invalid == nil {
			invalid = err
		}
	}

	vocabRows, err := s.db.QueryContext(ctx, `SELECT token_id, token_text FROM markov_vocabulary WHERE model_id = ? ORDER BY token_id;`, m.id)
	if err != nil {
		return nil, nil, fmt.Errorf("could not query vocabulary: %w", err)
	}
	for vocabRows.Next() {
		var rawID, rawText any
		if err := vocabRows.Scan(&rawID, &rawText); err != nil {
			_ = vocabRows.Close()
			return nil, nil, fmt.Errorf("could not scan vocabulary: %w", err)
		}
		id, err := columnInt(rawID)
		if err != nil {
			setInvalid(fmt.Errorf("vocabulary token_id: %w", err))
			continue
		}
		if id != int64(len(exported.Vocabulary)) {
			setInvalid(fmt.Errorf("vocabulary token id %d is out of sequence", id))
		}
		exported.Vocabulary = append(exported.Vocabulary, columnText(rawText))
	}
	_ = vocabRows.Close()
	if err := vocabRows.Err(); err != nil {
		return nil, nil, err
	}

	chainRows, err := s.db.QueryContext(ctx, `
SELECT p.prefix_text, c.next_token_id, c.frequency
FROM markov_chains c
JOIN markov_prefixes p ON p.prefix_id = c.prefix_id
WHERE c.model_id = ?;`, m.id)
	if err != nil {
		return nil, nil, fmt.Errorf("could not query chains: %w", err)
	}
	defer chainRows.Close()
	for chainRows.Next() {
		var rawPrefix, rawNext, rawFreq any
		if err := chainRows.Scan(&rawPrefix, &rawNext, &rawFreq); err != nil {
			return nil, nil, fmt.Errorf("could not scan chain: %w", err)
		}
		next, err := columnInt(rawNext)
		if err != nil {
			setInvalid(fmt.Errorf("chain next_token_id: %w", err))
			continue
		}
		freq, err := columnInt(rawFreq)
		if err != nil {
			setInvalid(fmt.Errorf("chain frequency: %w", err))
			continue
		}
		prefix := columnText(rawPrefix)
		dist, ok := exported.Transitions[prefix]
		if !ok {
			dist = make(map[string]uint64)
			exported.Transitions[prefix] = dist
		}
		dist[strconv.FormatInt(next, 10)] = uint64(freq)
	}
	return exported, invalid, chainRows.Err()
}

// columnInt reads an INTEGER column value. Text holding a decimal integer is
// accepted; anything else is an error.
func columnInt(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, fmt.Errorf("unexpected NULL")
	default:
		return 0, fmt.Errorf("unexpected value %v of type %T", v, v)
	}
}

// columnText reads a TEXT column value.
func columnText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
