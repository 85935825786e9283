package markov

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// chainLink Is a struct used for batching chain updates before they are applied.
type chainLink struct {
	prefix      string
	nextTokenID int
}

// Train adds one token sequence to the chain. The sequence is left-padded with
// SOC tokens and terminated with an EOC token, and every prefix->next pair has
// its count incremented by exactly one. Training is monotonic: counts only grow,
// so training the same text twice doubles its counts.
//
// An empty sequence is a no-op. If any count would overflow, Train returns
// ErrCountOverflow and leaves the chain unchanged.
func (c *Chain) Train(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	// Resolve ids without touching the vocabulary yet, so an overflow leaves
	// the chain exactly as it was.
	var newTokens []string
	pending := make(map[string]int)
	sentence := make([]int, len(tokens))
	for i, tok := range tokens {
		if id, ok := c.ids[tok]; ok {
			sentence[i] = id
			continue
		}
		if id, ok := pending[tok]; ok {
			sentence[i] = id
			continue
		}
		id := len(c.vocab) + len(newTokens)
		pending[tok] = id
		newTokens = append(newTokens, tok)
		sentence[i] = id
	}

	links := processSentence(c.order, sentence)

	perPrefix := make(map[string]uint64)
	for _, link := range links {
		perPrefix[link.prefix]++
	}
	for key, n := range perPrefix {
		if dist, ok := c.transitions[key]; ok && dist.total > math.MaxUint64-n {
			return fmt.Errorf("%w: prefix %q", ErrCountOverflow, key)
		}
	}

	for _, tok := range newTokens {
		c.ids[tok] = len(c.vocab)
		c.vocab = append(c.vocab, tok)
	}
	for _, link := range links {
		c.addLink(link.prefix, link.nextTokenID, 1)
	}
	return nil
}

// TrainReader trains the chain on every non-empty line of r, treating each line
// as a separate message. It returns the number of lines trained.
func (c *Chain) TrainReader(tokenizer Tokenizer, r io.Reader) (int, error) {
	// maxLineLength prevents massive lines from taking up a large amount of memory
	const maxLineLength = 1 << 20

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var lines int
	for scanner.Scan() {
		tokens := tokenizer.Tokenize(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		if err := c.Train(tokens); err != nil {
			return lines, err
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("tokenizer error: %w", err)
	}
	return lines, nil
}

// processSentence slides a window of size order over the padded sentence and
// returns one link per real token plus the final link into EOC.
func processSentence(order int, sentence []int) []chainLink {
	fullSlice := make([]int, len(sentence)+order+1)
	copy(fullSlice[order:len(fullSlice)-1], sentence)
	fullSlice[len(fullSlice)-1] = EOCTokenID

	links := make([]chainLink, 0, len(sentence)+1)
	var keyBuf []byte
	for i := 0; i < len(sentence)+1; i++ { // Iterate len+1 to include the final EOC token.
		keyBuf = appendPrefixKey(keyBuf[:0], fullSlice[i:i+order])
		links = append(links, chainLink{prefix: string(keyBuf), nextTokenID: fullSlice[i+order]})
	}
	return links
}
