package markov

import (
	"regexp"
	"strings"
)

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It uses a regular expression to find tokens, which by default are maximal
// runs of non-whitespace characters, so punctuation stays attached to the
// word it was typed with. Its behavior can be customized with functional options.
type DefaultTokenizer struct {
	separator  string
	splitRegex *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator Sets the string used for joining tokens during generation.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithSplitRegex sets the regex string used to find tokens in input text.
// Default: `\S+`
func WithSplitRegex(splitRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.splitRegex = regexp.MustCompile(splitRegex)
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator:  " ",
		splitRegex: regexp.MustCompile(`\S+`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Tokenize returns every match of the split regex in text.
func (t *DefaultTokenizer) Tokenize(text string) []string {
	tokens := t.splitRegex.FindAllString(text, -1)
	if tokens == nil {
		return []string{}
	}
	return tokens
}

// Join Returns the tokens joined with the configured separator.
func (t *DefaultTokenizer) Join(tokens []string) string {
	return strings.Join(tokens, t.separator)
}

// Separator Returns the configured separator string.
func (t *DefaultTokenizer) Separator() string {
	return t.separator
}
