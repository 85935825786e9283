package markov

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestClone(t *testing.T) {
	c := setupTrainedChain(t, 2, "the quick brown fox")
	clone := c.Clone()

	if err := c.Train([]string{"the", "slow", "dog"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := clone.VocabStr("slow"); ok {
		t.Error("training the original modified the clone's vocabulary")
	}
	if clone.Stats().TotalFrequency != 5 {
		t.Errorf("clone total weight = %d, want 5", clone.Stats().TotalFrequency)
	}
}

func TestTransitionsOrdering(t *testing.T) {
	c := setupTrainedChain(t, 1, "x y", "x z", "x y")

	var next []string
	for _, tr := range c.Transitions() {
		if len(tr.Prefix) == 1 && tr.Prefix[0] == "x" {
			next = append(next, tr.Next)
		}
	}
	if !reflect.DeepEqual(next, []string{"y", "z"}) {
		t.Errorf("next tokens for 'x' = %v, want first-observed order [y z]", next)
	}
}

func TestStats(t *testing.T) {
	c := setupTrainedChain(t, 2, "one fish two fish", "red fish blue fish")
	stats := c.Stats()

	if stats.VocabSize != 5 {
		t.Errorf("VocabSize = %d, want 5", stats.VocabSize)
	}
	if stats.StartingTokens != 2 {
		t.Errorf("StartingTokens = %d, want 2", stats.StartingTokens)
	}
	if stats.TotalFrequency != 10 {
		t.Errorf("TotalFrequency = %d, want 10", stats.TotalFrequency)
	}
	if stats.Prefixes != c.Len() {
		t.Errorf("Prefixes = %d, want %d", stats.Prefixes, c.Len())
	}
}

func TestStatsTotalSaturates(t *testing.T) {
	c := setupTrainedChain(t, 1, "a b")

	start := prefixKey([]int{SOCTokenID})
	c.transitions[start].total = math.MaxUint64
	c.transitions[start].next[0].Freq = math.MaxUint64

	if got := c.Stats().TotalFrequency; got != math.MaxUint64 {
		t.Errorf("TotalFrequency = %d, want %d", got, uint64(math.MaxUint64))
	}
}

func TestExportImport(t *testing.T) {
	c := setupTrainedChain(t, 2, "one fish two fish", "red fish blue fish", "<SOC> is just a word")

	var buf bytes.Buffer
	if err := c.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	imported, err := ReadChain(&buf)
	if err != nil {
		t.Fatalf("ReadChain() error = %v", err)
	}

	if imported.Order() != 2 {
		t.Errorf("Order() = %d, want 2", imported.Order())
	}
	if !reflect.DeepEqual(transitionMap(imported), transitionMap(c)) {
		t.Error("imported transitions do not match the original")
	}
	if !reflect.DeepEqual(imported.Stats(), c.Stats()) {
		t.Errorf("imported stats = %+v, want %+v", imported.Stats(), c.Stats())
	}

	// The reloaded chain keeps training where the original left off.
	if err := imported.Train([]string{"one", "fish"}); err != nil {
		t.Fatal(err)
	}
	if got, want := imported.Stats().TotalFrequency, c.Stats().TotalFrequency+3; got != want {
		t.Errorf("TotalFrequency after retraining = %d, want %d", got, want)
	}
}

func TestImportChainInvalid(t *testing.T) {
	vocab := []string{SOCTokenText, EOCTokenText, "a"}
	testCases := []struct {
		name  string
		chain *ExportedChain
	}{
		{name: "Nil", chain: nil},
		{name: "Zero order", chain: &ExportedChain{Order: 0, Vocabulary: vocab}},
		{name: "Missing sentinels", chain: &ExportedChain{Order: 1, Vocabulary: []string{"a"}}},
		{name: "Duplicate vocabulary", chain: &ExportedChain{Order: 1, Vocabulary: []string{SOCTokenText, EOCTokenText, "a", "a"}}},
		{name: "Malformed prefix", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"x": {"2": 1}}}},
		{name: "Wrong prefix length", chain: &ExportedChain{Order: 2, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"0": {"2": 1}}}},
		{name: "Prefix id out of range", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"7": {"2": 1}}}},
		{name: "EOC in prefix", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"1": {"2": 1}}}},
		{name: "Non-canonical prefix", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"02": {"1": 1}}}},
		{name: "Empty distribution", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"0": {}}}},
		{name: "SOC as next token", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"0": {"0": 1}}}},
		{name: "Non-canonical next token", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"0": {"02": 1}}}},
		{name: "Zero count", chain: &ExportedChain{Order: 1, Vocabulary: vocab, Transitions: map[string]map[string]uint64{"0": {"2": 0}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ImportChain(tc.chain); err == nil {
				t.Error("ImportChain() expected an error, got nil")
			}
		})
	}
}

func TestImportChainOverflow(t *testing.T) {
	e := &ExportedChain{
		Order:      1,
		Vocabulary: []string{SOCTokenText, EOCTokenText, "a", "b"},
		Transitions: map[string]map[string]uint64{
			"0": {"2": 1 << 63, "3": 1 << 63},
		},
	}
	if _, err := ImportChain(e); !errors.Is(err, ErrCountOverflow) {
		t.Errorf("ImportChain() error = %v, want %v", err, ErrCountOverflow)
	}
}

func TestReadChainMalformed(t *testing.T) {
	if _, err := ReadChain(strings.NewReader("{not json")); err == nil {
		t.Error("ReadChain() expected an error for malformed json")
	}
}
