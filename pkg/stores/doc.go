// Package stores persists processing runs in SQLite. It records one row per
// run, the state of each step and an append-only event log, so that the
// history and status commands can report on past runs and a failed stack
// run can be resumed from its failed run file.
package stores
