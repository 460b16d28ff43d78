// Package cache provides the generic caches backing the record projection
// and the unit-of-measure lookups. The in-memory cache is an LRU with
// optional TTL and a background sweeper; Ristretto and Redis backends share
// the same Cache interface.
package cache
