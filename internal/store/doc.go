// Package store implements the durable keyed store: a capacity-bounded,
// LRU-evicting map from string key to value, mirrored into a host
// persistence medium so that it survives restarts.
//
// Every entry carries its last access time, which drives both eviction order
// and TTL checks ([Store.IsExpired]). Writes to the medium are debounced: any
// number of mutations within the write delay collapse into a single
// serialization of the whole map.
//
// # Persisted representation
//
// The medium holds a JSON array of [key, value, lastAccessUnixMillis] triples
// under the configured storage key:
//
//	[["/home", 1700000000000, 1700000000000], ["/cart", 1700000004200, 1700000004200]]
//
// Malformed triples are skipped one by one on restore; they never invalidate
// the rest of the store.
//
// # Quota handling
//
// When the medium rejects a write with domain.ErrQuotaExceeded, the store
// evicts its least recently accessed entry and retries until the write fits
// or nothing is left to evict. The in-memory map stays authoritative for the
// rest of the process either way.
//
// A Store assumes a single logical writer. Two stores on the same medium and
// storage key overwrite each other.
package store
