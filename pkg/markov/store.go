package markov

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
)

// UserID identifies the owner of a chain, typically a chat platform's numeric
// user id. It is persisted in its decimal form.
type UserID uint64

// String returns the decimal form of the id.
func (u UserID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// ParseUserID parses the decimal form of a UserID.
func ParseUserID(s string) (UserID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return UserID(id), nil
}

// Store maps users to their chains. All chains in a store share one order.
//
// Mutations (GetOrCreate, Train, Clear, Put) are exclusive across the whole
// store; reads (Get, View, Generate, Snapshot) may run concurrently with each
// other but never with a mutation, so generation can never observe a partially
// updated distribution. All methods are concurrent-safe.
type Store struct {
	mu     sync.RWMutex
	order  int
	chains map[UserID]*Chain
	logger *slog.Logger
}

// NewStore creates an empty store whose chains will all have the given order.
func NewStore(order int) (*Store, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	return &Store{
		order:  order,
		chains: make(map[UserID]*Chain),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Order returns the order shared by every chain in the store.
func (s *Store) Order() int { return s.order }

// GetOrCreate lazily inserts an empty chain for user if none exists, then runs
// fn with exclusive access to it. The chain must not be retained after fn returns.
func (s *Store) GetOrCreate(user UserID, fn func(c *Chain) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chains[user]
	if !ok {
		c = newChain(s.order)
		s.chains[user] = c
		s.logger.Debug("Chain created", slog.String("user_id", user.String()), slog.Int("order", s.order))
	}
	if fn == nil {
		return nil
	}
	return fn(c)
}

// Train adds a token sequence to the user's chain, creating it if needed.
func (s *Store) Train(user UserID, tokens []string) error {
	return s.GetOrCreate(user, func(c *Chain) error {
		if err := c.Train(tokens); err != nil {
			return err
		}
		s.logger.Debug("Training completed",
			slog.String("user_id", user.String()),
			slog.Int("tokens", len(tokens)),
			slog.Int("prefixes", c.Len()),
		)
		return nil
	})
}

// Get returns a read-only copy of the user's chain. The boolean is false when
// the user has no chain at all, which callers must distinguish from a chain
// that exists but is empty.
func (s *Store) Get(user UserID) (*Chain, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[user]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// View runs fn on the user's chain under the shared lock, without copying it.
// fn must not modify or retain the chain. It reports whether the user has a chain.
func (s *Store) View(user UserID, fn func(c *Chain)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[user]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Clear replaces the user's chain with a fresh, empty chain of the same order.
// Other users' chains are unaffected.
func (s *Store) Clear(user UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chains[user] = newChain(s.order)
	s.logger.Info("Chain cleared", slog.String("user_id", user.String()))
}

// Put installs a chain for user, replacing any existing one. It is intended for
// loaders and rejects chains whose order differs from the store's.
func (s *Store) Put(user UserID, c *Chain) error {
	if c.order != s.order {
		return fmt.Errorf("%w: user %s has order %d, store has %d", ErrOrderMismatch, user, c.order, s.order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chains[user] = c
	return nil
}

// Generate produces one accepted text from the user's chain. It returns
// ErrNoData without drawing from rng when the user has no chain or an empty
// one, and an error matching ErrGenerationExhausted when no attempt was accepted.
func (s *Store) Generate(user UserID, rng Rand, attempts int, accept func(string) bool, opts ...GenerateOption) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[user]
	if !ok || c.Empty() {
		s.logger.Debug("Generation skipped, no data", slog.String("user_id", user.String()))
		return "", ErrNoData
	}

	text, err := GenerateAccepted(c, rng, attempts, accept, opts...)
	if err != nil {
		s.logger.Debug("Generation rejected",
			slog.String("user_id", user.String()),
			slog.Int("attempts", attempts),
		)
		return "", err
	}
	return text, nil
}

// Snapshot returns a point-in-time deep copy of every chain in the store. It is
// safe to serialize while training continues.
func (s *Store) Snapshot() map[UserID]*Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[UserID]*Chain, len(s.chains))
	for user, c := range s.chains {
		out[user] = c.Clone()
	}
	return out
}

// Users returns the ids of every user with a chain, in ascending order.
func (s *Store) Users() []UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]UserID, 0, len(s.chains))
	for user := range s.chains {
		users = append(users, user)
	}
	slices.Sort(users)
	return users
}

// Len returns the number of users with a chain.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains)
}

// Stats returns a snapshot of statistics for every chain in the store.
func (s *Store) Stats() *StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &StoreStats{
		Order: s.order,
		Users: len(s.chains),
		Stats: make(map[UserID]ModelStats, len(s.chains)),
	}
	for user, c := range s.chains {
		stats.Stats[user] = c.Stats()
	}
	return stats
}
