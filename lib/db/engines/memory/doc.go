// Package memory implements a volatile db.Store that keeps every namespace in
// its own concurrent hash map.
//
// The package focuses on:
//   - Lock-free reads and writes through xsync.MapOf
//   - Namespace isolation without key prefixes, every namespace has its own map
//   - Cheap Size (the map keeps its own count)
//
// Key Components:
//
//   - memoryImpl: The store. Namespace maps are created lazily on first use
//     and dropped on Truncate. Nothing is persisted, a closed store loses all
//     entries.
//
//   - Iterator: Iterate copies the namespace into a sorted slice. The iterator
//     therefore sees a snapshot and writes during the iteration are not
//     visible to it.
//
//   - Size estimation: Info samples entry sizes into a util.SizeHistogram and
//     extrapolates the footprint, DiskSpaceUsed is always 0.
//
// Supported init params:
//
//	initialCapacity  presized capacity of every namespace map
//
// Example usage:
//
//	s := memory.NewMemoryDB(nil)
//	if err := s.Open("", nil); err != nil {
//		return err
//	}
//	defer s.Close()
package memory
