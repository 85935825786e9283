package talklike

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/CTAG07/talklike/pkg/persist"
)

const (
	// NoDataReply is shown when the target has never said anything.
	NoDataReply = "Sorry, I don't have a record of you saying anything."
	// ExhaustedReply is shown when no generated text was acceptable.
	ExhaustedReply = "I tried, but couldn't come up with anything."
	// ErrorReply is shown for any other failure.
	ErrorReply = "Something went wrong, please try again later."
)

// TargetSelf resolves a generation request to the requester's own chain.
const TargetSelf = "self"

// ErrInvalidTarget is returned when a request names a target that is neither
// "self" nor a user id.
var ErrInvalidTarget = errors.New("talklike: invalid target")

// Config controls training and generation.
type Config struct {
	// MaxGenerations caps how many texts one request may ask for.
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`
	// MaxLength is the longest acceptable text, in characters.
	MaxLength int `json:"max_length" yaml:"max_length"`
	// MaxAttempts is how many times generation is retried per output.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// MaxTokens bounds the number of tokens in one generated text.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// Temperature and TopK tune sampling; see markov.WithTemperature and markov.WithTopK.
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopK        int     `json:"top_k" yaml:"top_k"`
	// SaveEveryMessage saves the store after every trained message instead of
	// waiting for the next scheduled flush.
	SaveEveryMessage bool `json:"save_every_message" yaml:"save_every_message"`
	// Filter selects which messages are used for training.
	Filter Filter `json:"filter" yaml:"filter"`
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxGenerations: 5,
		MaxLength:      2000,
		MaxAttempts:    10,
		MaxTokens:      100,
		Temperature:    1.0,
		Filter:         DefaultFilter(),
	}
}

// Request asks for text in the style of Target.
type Request struct {
	RequesterID markov.UserID `json:"requester_id"`
	// Target is TargetSelf (or empty) for the requester, or a decimal user id.
	Target string `json:"target"`
	Count  int    `json:"count"`
	// TTS is passed through to the Result for the caller's delivery.
	TTS bool `json:"tts"`
}

// Result holds the texts generated for a Request.
type Result struct {
	Target markov.UserID `json:"target"`
	Texts  []string      `json:"texts"`
	TTS    bool          `json:"tts"`
	// Rejected counts requested outputs that could not be produced.
	Rejected int `json:"rejected"`
}

// globalRand draws from the concurrency-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) Uint64N(n uint64) uint64 { return rand.Uint64N(n) }
func (globalRand) Float64() float64        { return rand.Float64() }

// Service trains and queries per-user chains.
type Service struct {
	store     *markov.Store
	flusher   *persist.Flusher
	tokenizer markov.Tokenizer
	cfg       Config
	rng       markov.Rand
	observer  Observer
	logger    *slog.Logger
}

// New returns a Service over store. flusher may be nil, in which case changes
// are never saved by the service.
func New(store *markov.Store, flusher *persist.Flusher, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.MaxGenerations < 1 {
		cfg.MaxGenerations = defaults.MaxGenerations
	}
	if cfg.MaxLength < 1 {
		cfg.MaxLength = defaults.MaxLength
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return &Service{
		store:     store,
		flusher:   flusher,
		tokenizer: markov.NewDefaultTokenizer(),
		cfg:       cfg,
		rng:       globalRand{},
		observer:  nopObserver{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetObserver installs an event observer. nil restores the no-op observer.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// SetRand replaces the random source. The source must be safe for concurrent
// use if the service is.
func (s *Service) SetRand(rng markov.Rand) {
	s.rng = rng
}

// SetTokenizer replaces the tokenizer used for training and joining output.
func (s *Service) SetTokenizer(t markov.Tokenizer) {
	s.tokenizer = t
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Store returns the underlying store.
func (s *Service) Store() *markov.Store { return s.store }

// HandleMessage trains the sender's chain on an eligible message. It reports
// whether the message was used.
func (s *Service) HandleMessage(ctx context.Context, m Message) (bool, error) {
	if reason := s.cfg.Filter.Reason(m); reason != "" {
		s.observer.Skipped(reason)
		s.logger.Debug("Message skipped", slog.String("user_id", m.SenderID.String()), slog.String("reason", reason))
		return false, nil
	}
	tokens := s.tokenizer.Tokenize(m.Text)
	if len(tokens) == 0 {
		s.observer.Skipped("empty")
		return false, nil
	}

	if err := s.store.Train(m.SenderID, tokens); err != nil {
		return false, fmt.Errorf("failed to train user %s: %w", m.SenderID, err)
	}
	s.observer.Trained(m.SenderID, len(tokens))

	if err := s.changed(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// maxLineLength bounds a single line read by TrainText.
const maxLineLength = 1 << 20

// TrainText trains user's chain on every non-empty line of r without
// filtering. It is meant for importing existing history and returns the
// number of lines used. The store is locked only while each line is applied,
// never while r is being read.
func (s *Service) TrainText(ctx context.Context, user markov.UserID, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var lines int
	var err error
	for scanner.Scan() {
		if err = ctx.Err(); err != nil {
			break
		}
		tokens := s.tokenizer.Tokenize(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		if err = s.store.Train(user, tokens); err != nil {
			err = fmt.Errorf("failed to train user %s: %w", user, err)
			break
		}
		lines++
	}
	if err == nil {
		if scanErr := scanner.Err(); scanErr != nil {
			err = fmt.Errorf("failed to read text: %w", scanErr)
		}
	}
	if lines > 0 {
		if ferr := s.changed(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}
	s.logger.Info("Imported text", slog.String("user_id", user.String()), slog.Int("lines", lines))
	return lines, err
}

// changed marks the store dirty and, with SaveEveryMessage, saves it now.
func (s *Service) changed(ctx context.Context) error {
	if s.flusher == nil {
		return nil
	}
	s.flusher.MarkDirty()
	if s.cfg.SaveEveryMessage {
		if err := s.flusher.Flush(ctx); err != nil {
			s.logger.Error("Failed to save after training", slog.Any("error", err))
			return err
		}
	}
	return nil
}

// ResolveTarget returns the user a request refers to.
func (s *Service) ResolveTarget(req Request) (markov.UserID, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" || strings.EqualFold(target, TargetSelf) {
		return req.RequesterID, nil
	}
	user, err := markov.ParseUserID(target)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, req.Target)
	}
	return user, nil
}

// accept reports whether a generated text can be sent.
func (s *Service) accept(text string) bool {
	return text != "" && utf8.RuneCountInString(text) <= s.cfg.MaxLength
}

// Generate produces up to req.Count texts in the target's style, clamped to
// [1, MaxGenerations]. It returns markov.ErrNoData if the target has no data,
// and an error matching markov.ErrGenerationExhausted if no output could be
// produced. If only some outputs fail, the successful texts are returned.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	target, err := s.ResolveTarget(req)
	if err != nil {
		return nil, err
	}

	count := min(max(req.Count, 1), s.cfg.MaxGenerations)
	opts := []markov.GenerateOption{
		markov.WithMaxLength(s.cfg.MaxTokens),
		markov.WithTemperature(s.cfg.Temperature),
		markov.WithTopK(s.cfg.TopK),
		markov.WithTokenizer(s.tokenizer),
	}

	result := &Result{Target: target, TTS: req.TTS}
	var lastErr error
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := s.store.Generate(target, s.rng, s.cfg.MaxAttempts, s.accept, opts...)
		switch {
		case errors.Is(err, markov.ErrNoData):
			s.observer.NoData(target)
			return nil, err
		case errors.Is(err, markov.ErrGenerationExhausted):
			result.Rejected++
			lastErr = err
		case err != nil:
			return nil, err
		default:
			result.Texts = append(result.Texts, text)
		}
	}

	if result.Rejected > 0 {
		s.observer.Rejected(target, result.Rejected)
	}
	if len(result.Texts) == 0 {
		s.logger.Info("Generation exhausted", slog.String("target", target.String()), slog.Int("count", count))
		return nil, lastErr
	}
	s.observer.Generated(target, len(result.Texts))
	s.logger.Debug("Generated texts",
		slog.String("requester", req.RequesterID.String()),
		slog.String("target", target.String()),
		slog.Int("texts", len(result.Texts)),
		slog.Int("rejected", result.Rejected),
	)
	return result, nil
}

// Clear forgets everything user has said.
func (s *Service) Clear(ctx context.Context, user markov.UserID) error {
	s.store.Clear(user)
	return s.changed(ctx)
}

// Flush saves pending changes now.
func (s *Service) Flush(ctx context.Context) error {
	if s.flusher == nil {
		return nil
	}
	return s.flusher.Flush(ctx)
}

// Stats returns statistics for every chain.
func (s *Service) Stats() *markov.StoreStats {
	return s.store.Stats()
}

// UserStats returns statistics for one user's chain. The boolean is false if
// the user has no chain.
func (s *Service) UserStats(user markov.UserID) (markov.ModelStats, bool) {
	var stats markov.ModelStats
	ok := s.store.View(user, func(c *markov.Chain) {
		stats = c.Stats()
	})
	return stats, ok
}

// Export writes user's chain as JSON to w. It returns markov.ErrNoData if the
// user has no chain.
func (s *Service) Export(user markov.UserID, w io.Writer) error {
	c, ok := s.store.Get(user)
	if !ok {
		return markov.ErrNoData
	}
	return c.WriteJSON(w)
}

// Reply maps a Generate error to the text shown to the requester.
func Reply(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, markov.ErrNoData):
		return NoDataReply
	case errors.Is(err, markov.ErrGenerationExhausted):
		return ExhaustedReply
	default:
		return ErrorReply
	}
}
