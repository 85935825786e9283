// Package talklike connects chat traffic to per-user Markov chains.
//
// A Service decides which inbound messages are used for training, trains the
// sender's chain, and answers "talk like" requests by generating text from the
// requested user's chain. It knows nothing about any chat platform: callers
// hand it already-received messages and deliver its results themselves.
package talklike
