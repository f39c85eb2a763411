// Package boltdb implements a persistent db.Store on top of bbolt, one bucket
// per namespace in a single file. Large namespaces are truncated in chunks so
// a Truncate never holds the write lock for long.
package boltdb
