// Package logging configures the dragonboat logger facade used by every
// package of this module (logger.GetLogger("<pkg>")).
//
// InitLoggers installs a factory producing lines of the form
//
//	2025/01/02 15:04:05 INFO  | pebble     | opened pebble store at /data
//
// and sets one level for all loggers listed in Packages.
package logging
