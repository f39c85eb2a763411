// Package util provides helpers shared by the storage engines.
//
// The package contains:
//   - statistics: Stats summarises a list of values and SizeHistogram tracks
//     the distribution of entry sizes, used by engines that have to estimate
//     their footprint instead of asking the file system
package util
