// Package database keeps a history of reconstruction runs in SQLite.
//
// Every reconstruction attempt, successful or not, becomes one row in the
// runs table; saving the result later updates that row with the output
// path. Input files are identified by a BLAKE2b digest of their contents so
// that re-runs on the same scan can be recognized even after it is moved.
//
// The pure-Go modernc.org/sqlite driver is used, so no C toolchain is needed
// for the history store.
package database
