// Package decorator provides db.Store wrappers that add cross-cutting
// behavior around an engine without the engine knowing about it.
//
// Decorators:
//
//   - Validating: rejects unknown namespaces, empty or too long keys and too
//     long values with db.ErrInvalidArgument before the engine is called.
//
//   - SizeCaching: caches the per-namespace size for engines that have to
//     scan to count. Single Put/Remove calls keep a known size up to date,
//     batch operations invalidate it, and the next Size call recounts once.
//     The cache converges under concurrent writes, it is not linearizable.
//
//   - Metered: records calls, errors and latencies per operation using
//     VictoriaMetrics counters and histograms.
//
// Every decorator implements db.Wrapper, so db.Innermost and db.HealthOf can
// reach the engine. The store factory composes them in a fixed order:
//
//	Validating(Metered(SizeCaching(engine)))
//
// where SizeCaching is only applied to engines with an expensive Size.
package decorator
