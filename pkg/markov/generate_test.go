package markov

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	c := setupTrainedChain(t, 1, "the cat sat on the mat")

	testCases := []struct {
		name     string
		rng      Rand
		opts     []GenerateOption
		expected string
	}{
		{
			name:     "Zero source cycles to max length",
			rng:      zeroRand{},
			opts:     []GenerateOption{WithMaxLength(10)},
			expected: "the cat sat on the cat sat on the cat",
		},
		{
			name:     "Last source ends early",
			rng:      lastRand{},
			expected: "the mat",
		},
		{
			name:     "Max length caps output",
			rng:      zeroRand{},
			opts:     []GenerateOption{WithMaxLength(3)},
			expected: "the cat sat",
		},
		{
			name:     "Zero max length",
			rng:      zeroRand{},
			opts:     []GenerateOption{WithMaxLength(0)},
			expected: "",
		},
		{
			name:     "Custom separator",
			rng:      lastRand{},
			opts:     []GenerateOption{WithTokenizer(NewDefaultTokenizer(WithSeparator("-")))},
			expected: "the-mat",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Generate(c, tc.rng, tc.opts...); got != tc.expected {
				t.Errorf("Generate() = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestGenerateCycleIsBounded(t *testing.T) {
	c := setupTrainedChain(t, 1, "a b a b")

	tokens := GenerateTokens(c, zeroRand{}, WithMaxLength(50))
	if len(tokens) != 50 {
		t.Errorf("expected generation to stop at 50 tokens, got %d", len(tokens))
	}

	// With early termination disabled, EOC draws restart the chain but still
	// count towards the limit.
	tokens = GenerateTokens(c, lastRand{}, WithMaxLength(9), WithEarlyTermination(false))
	if len(tokens) > 9 {
		t.Errorf("expected at most 9 tokens, got %d", len(tokens))
	}
	if len(tokens) == 0 {
		t.Error("expected tokens when early termination is disabled")
	}
}

func TestGenerateDeadEndActsAsEOC(t *testing.T) {
	c, _ := NewChain(1)
	// A prefix with an unknown continuation.
	c.vocab = append(c.vocab, "x")
	c.ids["x"] = 2
	c.addLink(prefixKey([]int{SOCTokenID}), 2, 1)

	if got := Generate(c, zeroRand{}); got != "x" {
		t.Errorf("Generate() = %q, want %q", got, "x")
	}
}

func TestGenerateSamplingOptions(t *testing.T) {
	// "a" follows SOC three times, "b" once.
	c := setupTrainedChain(t, 1, "b", "a", "a", "a")

	t.Run("Temperature zero picks most frequent", func(t *testing.T) {
		r := &countingRand{}
		if got := Generate(c, r, WithTemperature(0)); got != "a" {
			t.Errorf("Generate() = %q, want %q", got, "a")
		}
		if r.calls != 0 {
			t.Errorf("expected no random draws, got %d", r.calls)
		}
	})

	t.Run("TopK one picks most frequent", func(t *testing.T) {
		if got := Generate(c, zeroRand{}, WithTopK(1)); got != "a" {
			t.Errorf("Generate() = %q, want %q", got, "a")
		}
	})

	t.Run("Insertion order without options", func(t *testing.T) {
		if got := Generate(c, zeroRand{}); got != "b" {
			t.Errorf("Generate() = %q, want %q", got, "b")
		}
	})

	t.Run("Temperature scaling", func(t *testing.T) {
		if got := Generate(c, zeroRand{}, WithTemperature(0.5)); got != "b" {
			t.Errorf("Generate() = %q, want %q", got, "b")
		}
		if got := Generate(c, lastRand{}, WithTemperature(2)); got != "a" {
			t.Errorf("Generate() = %q, want %q", got, "a")
		}
	})
}

func TestGenerateAccepted(t *testing.T) {
	c := setupTrainedChain(t, 1, "hello world")

	t.Run("Accepts first", func(t *testing.T) {
		got, err := GenerateAccepted(c, zeroRand{}, 3, func(s string) bool { return s != "" })
		if err != nil {
			t.Fatalf("GenerateAccepted() error = %v", err)
		}
		if got != "hello world" {
			t.Errorf("GenerateAccepted() = %q, want %q", got, "hello world")
		}
	})

	t.Run("Rejects all", func(t *testing.T) {
		calls := 0
		_, err := GenerateAccepted(c, zeroRand{}, 4, func(string) bool { calls++; return false })
		if !errors.Is(err, ErrGenerationExhausted) {
			t.Fatalf("GenerateAccepted() error = %v, want %v", err, ErrGenerationExhausted)
		}
		var rejected *RejectedError
		if !errors.As(err, &rejected) || rejected.Attempts != 4 {
			t.Errorf("expected *RejectedError with 4 attempts, got %v", err)
		}
		if calls != 4 {
			t.Errorf("predicate called %d times, want 4", calls)
		}
	})

	t.Run("Attempts below one", func(t *testing.T) {
		calls := 0
		_, _ = GenerateAccepted(c, zeroRand{}, 0, func(string) bool { calls++; return false })
		if calls != 1 {
			t.Errorf("predicate called %d times, want 1", calls)
		}
	})

	t.Run("Nil predicate accepts", func(t *testing.T) {
		if _, err := GenerateAccepted(c, zeroRand{}, 1, nil); err != nil {
			t.Errorf("GenerateAccepted() error = %v", err)
		}
	})
}

func TestGenerateOnlyObservedTransitions(t *testing.T) {
	c := setupTrainedChain(t, 2, "one fish two fish", "red fish blue fish", "old fish new fish")
	observed := transitionMap(c)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		tokens := GenerateTokens(c, rng)
		prefix := []string{SOCTokenText, SOCTokenText}
		for _, tok := range tokens {
			key := prefix[0] + " " + prefix[1] + "|" + tok
			if observed[key] == 0 {
				t.Fatalf("generated unobserved transition %q", key)
			}
			prefix = []string{prefix[1], tok}
		}
	}
}

func BenchmarkGenerate(b *testing.B) {
	c, _ := NewChain(2)
	_, _ = c.TrainReader(NewDefaultTokenizer(), strings.NewReader(createBenchmarkCorpus()))
	rng := rand.New(rand.NewPCG(1, 2))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Generate(c, rng, WithMaxLength(50))
	}
}
