// Package persist saves and restores a markov.Store.
//
// Three backends implement Persister: JSONFile writes one aggregate document,
// Dir writes one "<user>.chain" file per user, and SQLite stores every chain in
// a single database. All of them publish atomically, so a failed save leaves
// the previous durable state intact, and all of them load tolerantly: entries
// that cannot be decoded are skipped and recorded in a LoadReport instead of
// failing the whole load.
//
// Flusher ties a Store to a Persister and decides when to save.
package persist
