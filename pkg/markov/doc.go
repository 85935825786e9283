/*
Package markov provides a small, in-memory toolkit for training and sampling
per-user Markov chains.

A Chain is a bounded-order frequency table: every trained message is padded
with Start-Of-Chain tokens, terminated by an End-Of-Chain token, and each
observed prefix->next transition has its count incremented. Generation walks
the table from the all-SOC prefix, drawing each next token in proportion to
its count from a caller-supplied random source, and always stops after a
fixed number of tokens.

A Store maps user ids to chains behind a single readers-writer lock, and is
the only shared mutable state the rest of the application needs.
*/
package markov
