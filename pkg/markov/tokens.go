package markov

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens and joining generated tokens back into text. This allows the core
// chain logic to be independent of the specific tokenization strategy.
type Tokenizer interface {
	// Tokenize splits text into an ordered slice of tokens. It must be total:
	// empty or all-whitespace input yields an empty slice, never an error.
	Tokenize(text string) []string
	// Join builds the final generated string from a token sequence.
	Join(tokens []string) string
}

// ChainToken represents a potential next token in a Markov chain, including its
// vocabulary ID and its frequency of occurrence after a given prefix.
type ChainToken struct {
	Id   int
	Freq uint64
}

// NextTokens returns every possible next token for a prefix of token texts,
// in the order they were first observed, along with the sum of their
// frequencies. SOCTokenText in the prefix is treated as the Start sentinel.
// If the prefix is unknown it returns a nil slice and a total of 0.
func (c *Chain) NextTokens(prefix []string) ([]ChainToken, uint64) {
	if len(prefix) != c.order {
		return nil, 0
	}
	ids := make([]int, len(prefix))
	for i, text := range prefix {
		if text == SOCTokenText {
			ids[i] = SOCTokenID
			continue
		}
		id, ok := c.ids[text]
		if !ok {
			return nil, 0
		}
		ids[i] = id
	}
	dist, ok := c.transitions[prefixKey(ids)]
	if !ok {
		return nil, 0
	}
	out := make([]ChainToken, len(dist.next))
	copy(out, dist.next)
	return out, dist.total
}

// VocabStr looks up a token string in the vocabulary and returns its ID.
func (c *Chain) VocabStr(token string) (int, bool) {
	id, ok := c.ids[token]
	return id, ok
}

// VocabInt looks up a token ID in the vocabulary and returns its text.
func (c *Chain) VocabInt(id int) (string, bool) {
	if id < 0 || id >= len(c.vocab) {
		return "", false
	}
	return c.vocab[id], true
}
