package markov

import "math"

// StoreStats holds aggregated statistics for the entire store, including
// per-user stats.
type StoreStats struct {
	Order int                   `json:"order"` // The order shared by every chain in the store
	Users int                   `json:"users"` // The number of users with a chain
	Stats map[UserID]ModelStats `json:"stats"` // A mapping of user ids to their stats
}

// ModelStats holds aggregated statistics for a single Markov chain.
type ModelStats struct {
	TotalChains    int    `json:"total_chains"`    // The number of unique prefix->next_token links.
	TotalFrequency uint64 `json:"total_frequency"` // The sum of frequencies of all links; the total number of trained transitions.
	StartingTokens int    `json:"starting_tokens"` // The number of unique tokens that can start a chain.
	Prefixes       int    `json:"prefixes"`        // The number of unique prefixes.
	VocabSize      int    `json:"vocab_size"`      // The number of unique tokens, excluding the sentinels.
}

// Stats returns a snapshot of statistics for the chain.
func (c *Chain) Stats() ModelStats {
	stats := ModelStats{
		Prefixes:  len(c.transitions),
		VocabSize: len(c.vocab) - 2,
	}
	for _, dist := range c.transitions {
		stats.TotalChains += len(dist.next)
		// Saturates rather than wrapping; each total is bounded but their sum is not.
		if stats.TotalFrequency > math.MaxUint64-dist.total {
			stats.TotalFrequency = math.MaxUint64
		} else {
			stats.TotalFrequency += dist.total
		}
	}
	if start, ok := c.transitions[prefixKey(make([]int, c.order))]; ok {
		stats.StartingTokens = len(start.next)
	}
	return stats
}
