// Package sqldb implements a db.Store on any database/sql driver. The
// embedded sqlite driver is used by default, other drivers can be loaded at
// runtime from a Go plugin.
//
// Every namespace is stored in its own table:
//
//	CREATE TABLE nskv_<namespace> (id VARCHAR(128) NOT NULL PRIMARY KEY, value TEXT)
//
// Tables are created on first use. The connection pool is probed before
// every operation and reopened once if the probe fails. Failures and
// recoveries are kept for a configurable window and reported through
// Health, so a monitor can tell "unavailable" from "recently recovered".
//
// All writes run in transactions serialized by one lock, reads are
// concurrent. Iterators read one page per query and hold no connection
// between pages.
package sqldb
