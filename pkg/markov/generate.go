package markov

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrGenerationExhausted is matched by the error returned from GenerateAccepted
// when no attempt satisfied the acceptance predicate.
var ErrGenerationExhausted = errors.New("markov: no generated text was accepted")

// RejectedError reports that every generation attempt was rejected.
type RejectedError struct {
	Attempts int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("markov: all %d generation attempts rejected", e.Attempts)
}

// Is lets errors.Is(err, ErrGenerationExhausted) match a *RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrGenerationExhausted
}

// Rand is the source of randomness used for sampling. *math/rand/v2.Rand
// satisfies it; tests can supply a fixed sequence.
type Rand interface {
	// Uint64N returns a uniform value in [0, n).
	Uint64N(n uint64) uint64
	// Float64 returns a uniform value in [0.0, 1.0).
	Float64() float64
}

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	maxLength   int
	canEndEarly bool
	temperature float64
	topK        int
	tokenizer   Tokenizer
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in generation functions like Generate and GenerateAccepted.
type GenerateOption func(*generateOptions)

// WithMaxLength sets the maximum number of tokens to draw. Generation always
// stops after n draws, even if the chain contains a cycle and never reaches EOC.
func WithMaxLength(n int) GenerateOption {
	return func(o *generateOptions) { o.maxLength = n }
}

// WithEarlyTermination specifies whether generation stops when an End-Of-Chain
// token is drawn. When disabled, the chain restarts from the SOC prefix and keeps
// going until maxLength draws have been made.
func WithEarlyTermination(canEnd bool) GenerateOption {
	return func(o *generateOptions) { o.canEndEarly = canEnd }
}

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less frequent tokens more likely).
// Values < 1.0 decrease randomness (making more frequent tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the
// most frequent token, the first observed one on ties).
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most frequent tokens
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

// WithTokenizer sets the tokenizer used to join generated tokens.
func WithTokenizer(t Tokenizer) GenerateOption {
	return func(o *generateOptions) {
		if t != nil {
			o.tokenizer = t
		}
	}
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		maxLength:   100,
		canEndEarly: true,
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.tokenizer == nil {
		options.tokenizer = NewDefaultTokenizer()
	}
	return options
}

// Generate walks the chain from the all-SOC prefix and returns the generated
// tokens joined into a single string.
func Generate(c *Chain, rng Rand, opts ...GenerateOption) string {
	options := newGenerateOptions(opts)
	return options.tokenizer.Join(generateChain(c, rng, options))
}

// GenerateTokens is like Generate but returns the raw token sequence.
func GenerateTokens(c *Chain, rng Rand, opts ...GenerateOption) []string {
	return generateChain(c, rng, newGenerateOptions(opts))
}

// GenerateAccepted calls Generate up to attempts times and returns the first
// result for which accept returns true. If none is accepted it returns a
// *RejectedError, which matches ErrGenerationExhausted. attempts below 1 is
// treated as 1.
func GenerateAccepted(c *Chain, rng Rand, attempts int, accept func(string) bool, opts ...GenerateOption) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	options := newGenerateOptions(opts)
	for i := 0; i < attempts; i++ {
		text := options.tokenizer.Join(generateChain(c, rng, options))
		if accept == nil || accept(text) {
			return text, nil
		}
	}
	return "", &RejectedError{Attempts: attempts}
}

// generateChain contains the main loop for generating a markov chain.
func generateChain(c *Chain, rng Rand, options *generateOptions) []string {
	var out []string
	prefix := make([]int, c.order)
	var keyBuf []byte

	for step := 0; step < options.maxLength; step++ {
		keyBuf = appendPrefixKey(keyBuf[:0], prefix)
		dist, ok := c.transitions[string(keyBuf)]

		nextToken := EOCTokenID
		if ok { // A missing prefix is a dead end and behaves like EOC.
			nextToken = chooseNextToken(rng, dist.next, dist.total, options)
		}

		if nextToken == EOCTokenID {
			if options.canEndEarly {
				break
			}
			clear(prefix)
			continue
		}

		out = append(out, c.vocab[nextToken])
		prefix = append(prefix[1:], nextToken)
	}
	return out
}

// chooseNextToken abstracts the token selection logic from the generation loop.
// Choices are walked in first-observed order, so a source that always returns
// zero always picks the first observed option.
func chooseNextToken(rng Rand, choices []ChainToken, totalFreq uint64, options *generateOptions) int {
	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		sorted := make([]ChainToken, len(choices))
		copy(sorted, choices)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Freq > sorted[j].Freq
		})
		choices = sorted[:options.topK]
		totalFreq = 0
		for _, choice := range choices {
			totalFreq += choice.Freq
		}
	}

	nextToken := choices[len(choices)-1].Id

	// temperature selection
	if options.temperature <= 0 { // Deterministic
		var maxFreq uint64
		for _, choice := range choices {
			if choice.Freq > maxFreq {
				maxFreq = choice.Freq
				nextToken = choice.Id
			}
		}
	} else if options.temperature == 1.0 { // Standard weighted random
		randChoice := rng.Uint64N(totalFreq)
		for _, choice := range choices {
			if randChoice < choice.Freq {
				nextToken = choice.Id
				break
			}
			randChoice -= choice.Freq
		}
	} else { // Temperature-based sampling
		logProbabilities := make([]float64, len(choices))
		epsilon := math.Inf(-1)
		for i, choice := range choices {
			lp := math.Log(float64(choice.Freq)) / options.temperature
			logProbabilities[i] = lp
			if lp > epsilon {
				epsilon = lp
			}
		}
		var totalWeight float64
		weights := make([]float64, len(choices))
		for i, lp := range logProbabilities {
			w := math.Exp(lp - epsilon)
			weights[i] = w
			totalWeight += w
		}
		randChoice := rng.Float64() * totalWeight
		for i, choice := range choices {
			randChoice -= weights[i]
			if randChoice < 0 {
				nextToken = choice.Id
				break
			}
		}
	}
	return nextToken
}
