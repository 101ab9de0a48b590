// Package medium provides host key-value persistence media for the durable
// store.
//
//   - [Memory]: session-scoped, lives as long as the process
//   - [File]: persistent-scoped, one file per storage key, atomic writes
//   - [Pebble]: persistent-scoped, backed by a Pebble database
//   - [Quota]: wraps any medium with a byte budget
//
// [Open] picks a medium from a storage type and backend name.
package medium
