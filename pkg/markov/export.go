package markov

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// ExportedChain is the serializable representation of a trained chain, used
// by every persistence backend. Vocabulary is indexed by token id; ids 0 and 1
// are always the SOC and EOC sentinels. Transitions maps a serialized prefix
// (space-joined token ids) to a mapping of next token id to count.
type ExportedChain struct {
	Order       int                          `json:"order"`
	Vocabulary  []string                     `json:"vocabulary"`
	Transitions map[string]map[string]uint64 `json:"transitions"`
}

// Export returns the serializable form of the chain.
func (c *Chain) Export() *ExportedChain {
	exported := &ExportedChain{
		Order:       c.order,
		Vocabulary:  make([]string, len(c.vocab)),
		Transitions: make(map[string]map[string]uint64, len(c.transitions)),
	}
	copy(exported.Vocabulary, c.vocab)
	for key, dist := range c.transitions {
		next := make(map[string]uint64, len(dist.next))
		for _, tok := range dist.next {
			next[strconv.Itoa(tok.Id)] = tok.Freq
		}
		exported.Transitions[key] = next
	}
	return exported
}

// ImportChain validates an ExportedChain and rebuilds the chain it describes.
// Next tokens are inserted in ascending id order, which is the order the
// tokens were first added to the vocabulary.
func ImportChain(e *ExportedChain) (*Chain, error) {
	if e == nil {
		return nil, fmt.Errorf("import: nil chain")
	}
	if e.Order < 1 {
		return nil, fmt.Errorf("import: %w (got %d)", ErrInvalidOrder, e.Order)
	}
	if len(e.Vocabulary) < 2 {
		return nil, fmt.Errorf("import: vocabulary is missing the reserved sentinels")
	}

	c := newChain(e.Order)
	for id, text := range e.Vocabulary[2:] {
		if _, dup := c.ids[text]; dup {
			return nil, fmt.Errorf("import: duplicate vocabulary entry %q", text)
		}
		c.ids[text] = id + 2
		c.vocab = append(c.vocab, text)
	}

	keys := make([]string, 0, len(e.Transitions))
	for key := range e.Transitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		ids, err := parsePrefixKey(key)
		if err != nil {
			return nil, fmt.Errorf("import: malformed prefix %q: %w", key, err)
		}
		if len(ids) != e.Order {
			return nil, fmt.Errorf("import: prefix %q has length %d, want %d", key, len(ids), e.Order)
		}
		for _, id := range ids {
			if id < 0 || id >= len(c.vocab) || id == EOCTokenID {
				return nil, fmt.Errorf("import: prefix %q references invalid token id %d", key, id)
			}
		}
		canonical := prefixKey(ids)
		if canonical != key {
			return nil, fmt.Errorf("import: prefix %q is not in canonical form", key)
		}

		next := e.Transitions[key]
		if len(next) == 0 {
			return nil, fmt.Errorf("import: prefix %q has an empty distribution", key)
		}
		nextIDs := make([]int, 0, len(next))
		for idStr, count := range next {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				return nil, fmt.Errorf("import: malformed next token %q: %w", idStr, err)
			}
			if strconv.Itoa(id) != idStr {
				return nil, fmt.Errorf("import: next token %q is not in canonical form", idStr)
			}
			if id < 0 || id >= len(c.vocab) || id == SOCTokenID {
				return nil, fmt.Errorf("import: prefix %q has invalid next token id %d", key, id)
			}
			if count == 0 {
				return nil, fmt.Errorf("import: prefix %q has a zero count for token %d", key, id)
			}
			nextIDs = append(nextIDs, id)
		}
		sort.Ints(nextIDs)

		var total uint64
		for _, id := range nextIDs {
			count := next[strconv.Itoa(id)]
			if total > math.MaxUint64-count {
				return nil, fmt.Errorf("import: %w: prefix %q", ErrCountOverflow, key)
			}
			total += count
			c.addLink(key, id, count)
		}
	}

	return c, nil
}

// WriteJSON serializes the chain as indented JSON to w.
func (c *Chain) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c.Export())
}

// ReadChain decodes and validates a chain previously written by WriteJSON.
func ReadChain(r io.Reader) (*Chain, error) {
	var exported ExportedChain
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return nil, fmt.Errorf("failed to decode json chain: %w", err)
	}
	return ImportChain(&exported)
}
