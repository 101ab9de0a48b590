// Package domain contains the core entities of perfship.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (HTTP, storage media, logging) and holds only the
// value types the batching engine moves around and the sentinel errors the
// public API returns.
//
// # Entities
//
//   - [Item]: one keyed performance snapshot queued for delivery
//   - [Batch]: a group of items delivered to a sink together, with its retry count
package domain
