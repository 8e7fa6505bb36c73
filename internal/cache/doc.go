// Package cache provides a bounded in-memory store for audio payloads.
// Entries are limited by count and by total bytes; when either limit would
// be exceeded the entry with the lowest recency-plus-frequency score is
// evicted. A Sweeper enforces the limits periodically.
package cache
