// Package jobstore persists try-on jobs and their per-stage progress in
// SQLite.
//
// Every mutation is its own transaction: an observer reading a snapshot
// mid-run sees exactly the last durably committed state, and a crash between
// stages leaves the record reflecting what was actually produced.
package jobstore
