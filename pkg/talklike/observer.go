package talklike

import "github.com/CTAG07/talklike/pkg/markov"

// Observer receives service events, typically to export metrics. Methods are
// called synchronously and must not block.
type Observer interface {
	// Trained is called after a message was added to user's chain.
	Trained(user markov.UserID, tokens int)
	// Skipped is called when a message was not eligible for training.
	Skipped(reason string)
	// Generated is called with the number of texts produced for target.
	Generated(target markov.UserID, texts int)
	// Rejected is called with the number of outputs for target that no attempt
	// could satisfy.
	Rejected(target markov.UserID, outputs int)
	// NoData is called when target has no chain or an empty one.
	NoData(target markov.UserID)
}

type nopObserver struct{}

func (nopObserver) Trained(markov.UserID, int)   {}
func (nopObserver) Skipped(string)               {}
func (nopObserver) Generated(markov.UserID, int) {}
func (nopObserver) Rejected(markov.UserID, int)  {}
func (nopObserver) NoData(markov.UserID)         {}
