// Package dedupe provides event deduplication using a time-based cache
// to prevent processing duplicate Matrix events within a configurable window.
package dedupe
