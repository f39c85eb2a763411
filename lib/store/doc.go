// Package store opens fully composed stores and keeps exactly one instance
// per location.
//
// A store returned by the factory is an engine wrapped with the decorators in
// a fixed order:
//
//	Validating( Metered( [SizeCaching]( engine ) ) )
//
// The size cache is only added for engines that have to scan to count a
// namespace (pebble and bolt).
//
// Key Components:
//
//   - Factory: holds the engine registry and the open instances. Repeated
//     Open calls for the same location return the same Handle, opening the
//     same location with another engine fails with db.ErrIllegalState.
//
//   - Engine: a registered engine constructor. Additional engines can be
//     registered at runtime with Register.
//
//   - Config: engine name, location and init string
//     ("key=value;key=value") of a store.
//
//   - Handle: the composed store. Closing it removes it from the factory.
//
// Example usage:
//
//	s, err := store.Open(store.Config{
//		Engine:   db.ImplBolt,
//		Location: "/var/lib/nskv",
//		Init:     "noSync=false;timeoutMs=2000",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	_, err = s.Put(db.NsTemp, "key", "value")
//
// All open failures are reported as db.ErrStoreUnavailable naming the engine.
package store
