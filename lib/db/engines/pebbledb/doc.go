// Package pebbledb implements a persistent db.Store on top of a pebble LSM
// tree.
//
// All namespaces share one keyspace. An engine key is the namespace name, a
// 0x00 separator and the user key, so a namespace is the key range
// [ns 0x00, ns 0x01). Truncate deletes that range with a single range
// tombstone and starts a background compaction to reclaim the space. At most
// one compaction runs at a time and Close waits for it.
//
// Size has to scan the namespace, the factory therefore wraps this engine
// with the size cache.
package pebbledb
