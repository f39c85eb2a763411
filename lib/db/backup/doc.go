// Package backup dumps the content of a db.Store into an engine independent
// binary stream and replays such a stream into another store.
//
// A dump can be taken from any engine and loaded into any other, which makes
// it the migration path between engines:
//
//	f, _ := os.Create("dump.bin")
//	n, err := backup.Save(pebbleStore, f)
//	...
//	n, err = backup.Load(sqlStore, f)
//
// Save uses one iterator per namespace, so it fails with db.ErrIllegalState
// if another iterator is open on one of the namespaces.
package backup
