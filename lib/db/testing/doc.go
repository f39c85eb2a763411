// Package testing provides standardised tests and benchmarks for
// implementations of the db.Store interface.
//
// The package contains:
//   - testing: A conformance suite every engine and decorator chain has to pass
//   - benchmark: Performance tests for measuring throughput of common store operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() (db.Store, db.InitParams) {
//		return NewMyStore(), db.InitParams{"sync": "false"}
//	}
//
//	// Running the standard test suite
//	dbtesting.RunStoreTests(t, "MyStore", factory)
//
//	// Running the persistence tests (only for engines writing to disk)
//	dbtesting.RunPersistenceTests(t, "MyStore", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunStoreBenchmarks(b, "MyStore", factory)
//
// Every sub test opens the store in its own t.TempDir().
package testing
