package markov

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

const (
	// SOCTokenID is the reserved ID for the Start-Of-Chain token.
	SOCTokenID = 0
	// EOCTokenID is the reserved ID for the End-Of-Chain token.
	EOCTokenID = 1
	// SOCTokenText is the reserved text for the Start-Of-Chain token.
	SOCTokenText = "<SOC>"
	// EOCTokenText is the reserved text for the End-Of-Chain token.
	EOCTokenText = "<EOC>"
)

var (
	// ErrNoData is returned when a user has no chain, or an empty one.
	ErrNoData = errors.New("markov: no data recorded for user")
	// ErrCountOverflow is returned when training would overflow a transition count.
	ErrCountOverflow = errors.New("markov: transition count overflow")
	// ErrOrderMismatch is returned when a chain's order differs from the store's.
	ErrOrderMismatch = errors.New("markov: chain order mismatch")
	// ErrInvalidOrder is returned when creating a chain or store with order < 1.
	ErrInvalidOrder = errors.New("markov: order must be at least 1")
)

// Chain is a single trained Markov model of a fixed order. Tokens are interned
// into a vocabulary whose first two entries are the SOC and EOC sentinels, so a
// user typing "<SOC>" gets an ordinary id and can never collide with them.
//
// A Chain is not safe for concurrent use; the Store serializes access to it.
type Chain struct {
	order       int
	vocab       []string
	ids         map[string]int
	transitions map[string]*distribution
}

// distribution is the weighted set of next tokens for one prefix. Entries keep
// the order in which they were first observed.
type distribution struct {
	next  []ChainToken
	index map[int]int
	total uint64
}

// Transition is one (prefix, next, count) triple of a chain, with sentinels
// rendered as SOCTokenText and EOCTokenText.
type Transition struct {
	Prefix []string
	Next   string
	Count  uint64
}

// NewChain returns an empty chain of the given order.
func NewChain(order int) (*Chain, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	return newChain(order), nil
}

func newChain(order int) *Chain {
	return &Chain{
		order:       order,
		vocab:       []string{SOCTokenText, EOCTokenText},
		ids:         make(map[string]int),
		transitions: make(map[string]*distribution),
	}
}

// Order returns the number of preceding tokens used to predict the next one.
func (c *Chain) Order() int { return c.order }

// Len returns the number of distinct prefixes in the chain.
func (c *Chain) Len() int { return len(c.transitions) }

// Empty reports whether the chain has never been trained.
func (c *Chain) Empty() bool { return len(c.transitions) == 0 }

// Clone returns a deep copy of the chain.
func (c *Chain) Clone() *Chain {
	out := &Chain{
		order:       c.order,
		vocab:       make([]string, len(c.vocab)),
		ids:         make(map[string]int, len(c.ids)),
		transitions: make(map[string]*distribution, len(c.transitions)),
	}
	copy(out.vocab, c.vocab)
	for k, v := range c.ids {
		out.ids[k] = v
	}
	for k, d := range c.transitions {
		nd := &distribution{
			next:  make([]ChainToken, len(d.next)),
			index: make(map[int]int, len(d.index)),
			total: d.total,
		}
		copy(nd.next, d.next)
		for id, i := range d.index {
			nd.index[id] = i
		}
		out.transitions[k] = nd
	}
	return out
}

// Transitions returns every (prefix, next, count) triple in the chain, sorted
// by prefix key and then by first-observed order.
func (c *Chain) Transitions() []Transition {
	keys := make([]string, 0, len(c.transitions))
	for k := range c.transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Transition
	for _, k := range keys {
		ids, _ := parsePrefixKey(k)
		prefix := make([]string, len(ids))
		for i, id := range ids {
			prefix[i] = c.vocab[id]
		}
		for _, tok := range c.transitions[k].next {
			out = append(out, Transition{
				Prefix: append([]string(nil), prefix...),
				Next:   c.vocab[tok.Id],
				Count:  tok.Freq,
			})
		}
	}
	return out
}

// addLink increments the count of prefix->next by n. Callers must have checked
// that the distribution total cannot overflow.
func (c *Chain) addLink(key string, next int, n uint64) {
	dist, ok := c.transitions[key]
	if !ok {
		dist = &distribution{index: make(map[int]int)}
		c.transitions[key] = dist
	}
	if i, ok := dist.index[next]; ok {
		dist.next[i].Freq += n
	} else {
		dist.index[next] = len(dist.next)
		dist.next = append(dist.next, ChainToken{Id: next, Freq: n})
	}
	dist.total += n
}

// appendPrefixKey writes the space-joined decimal ids of prefix to buf.
func appendPrefixKey(buf []byte, prefix []int) []byte {
	for j, tokenID := range prefix {
		if j > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(tokenID), 10)
	}
	return buf
}

func prefixKey(prefix []int) string {
	return string(appendPrefixKey(nil, prefix))
}

func parsePrefixKey(key string) ([]int, error) {
	parts := strings.Split(key, " ")
	ids := make([]int, len(parts))
	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
