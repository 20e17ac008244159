// Package stores persists the design history of optimization runs in
// SQLite (WAL mode, embedded golang-migrate migrations): designs with
// their completion flags, stage runs and the event timeline.
//
// The store lets a crashed run be resumed without trusting the presence
// of solver output files as completion markers.
package stores
