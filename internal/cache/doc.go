// Package cache implements the content-addressed audio cache. A Store pairs a
// blob area holding encoded audio with an index of per-owner metadata. Blobs
// are always written before their index entry, and an entry whose blob can no
// longer be read is purged on lookup and reported as a miss.
package cache
