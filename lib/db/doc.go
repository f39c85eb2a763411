// Package db defines the namespaced key-value store contract shared by all
// storage engines and decorators.
//
// The package focuses on:
//   - A single Store interface for every backend (memory, pebble, bolt, sql)
//   - A fixed enumeration of namespaces, each with an independent keyspace
//   - Classified errors that survive any number of decorator layers
//   - A lifecycle every engine follows (NEW -> OPEN -> CLOSED)
//
// Key Components:
//
//   - Store Interface: Open/Close, point operations (Get, Contains, Put,
//     Remove), batches (PutAll, RemoveAll), Size, Iterate and Truncate per
//     namespace, plus metadata (DiskSpaceUsed, Info). Keys are at most
//     MaxKeyLength and values at most MaxValueLength characters, both counted
//     in runes. The limits are enforced by the validating decorator, engines
//     trust their input.
//
//   - Iterator: A single pass cursor over one namespace in ascending key
//     order. At most one iterator per namespace may be open at a time
//     (IteratorGuard), a second Iterate fails with ErrIllegalState until the
//     first one is closed. ForEach wraps the open/iterate/close sequence.
//
//   - Error System: Every error crossing the interface is an *Error with one
//     of the codes StoreUnavailable, IllegalState, InvalidArgument or
//     DataReset. Use errors.Is with the sentinels (ErrStoreUnavailable, ...)
//     to test for a code. WrapError keeps an existing classification,
//     Reclassify replaces it.
//
//   - Lifecycle: Embedded by the engines. Opening an open store at the same
//     location is a no-op, at another location it fails. A failed Open returns
//     the store to NEW, a closed store can not be reopened.
//
//   - InitParams: The engine specific "key=value;key=value" init string.
//     Unknown keys are ignored with a warning, malformed values make Open fail
//     with ErrStoreUnavailable.
//
//   - Health: Engines that track their backend's availability implement
//     HealthReporter. HealthOf finds it through any decorator chain.
//
// Decorators implement Wrapper so callers can reach the engine with
// Innermost.
//
// Related Packages:
//
// The engines packages (lib/db/engines/...) provide the backends, the
// decorator package the validating, size caching and metering layers. The
// store package composes both and keeps one instance per location.
//
// The testing package (lib/db/testing) provides the conformance suite every
// engine and decorator chain is run against:
//   - RunStoreTests: Lifecycle, point and batch operations, iteration, limits, concurrency
//   - RunPersistenceTests: Data surviving a reopen (disk engines only)
//   - RunStoreBenchmarks: Throughput of the common operations
package db
