// Package stores persists the run journal in SQLite. The schema is managed
// by embedded golang-migrate migrations; the database is opened with the
// pure-Go modernc.org/sqlite driver.
package stores
