// Package ports defines the interfaces (ports) that connect the batching
// engine to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Sink]: delivers a batch of items (HTTP report endpoint, analysis service, ...)
//   - [Medium]: host key-value persistence backing the durable store
//   - [LifecycleSource]: emits "hidden" and "unload" signals that trigger a flush
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them.
package ports
