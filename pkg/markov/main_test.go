package markov

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// zeroRand always draws the lowest value, so weighted selection always picks
// the first observed option.
type zeroRand struct{}

func (zeroRand) Uint64N(uint64) uint64 { return 0 }
func (zeroRand) Float64() float64      { return 0 }

// lastRand always draws the highest value, so weighted selection always picks
// the last observed option.
type lastRand struct{}

func (lastRand) Uint64N(n uint64) uint64 { return n - 1 }
func (lastRand) Float64() float64        { return 0.999999 }

// countingRand records how many draws were made.
type countingRand struct {
	calls int
}

func (r *countingRand) Uint64N(uint64) uint64 { r.calls++; return 0 }
func (r *countingRand) Float64() float64      { r.calls++; return 0 }

// setupTrainedChain creates a chain of the given order trained on each line.
func setupTrainedChain(t *testing.T, order int, lines ...string) *Chain {
	t.Helper()
	c, err := NewChain(order)
	if err != nil {
		t.Fatalf("NewChain(%d) error = %v", order, err)
	}
	tokenizer := NewDefaultTokenizer()
	for _, line := range lines {
		if err := c.Train(tokenizer.Tokenize(line)); err != nil {
			t.Fatalf("setup: Train(%q) failed: %v", line, err)
		}
	}
	return c
}

// transitionMap flattens a chain into "prefix|next" -> count for comparisons.
func transitionMap(c *Chain) map[string]uint64 {
	out := make(map[string]uint64)
	for _, tr := range c.Transitions() {
		out[strings.Join(tr.Prefix, " ")+"|"+tr.Next] = tr.Count
	}
	return out
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking. it is not very long but will prevent a crash.\n"
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
