// Package storage persists the engine's two JSON documents:
//   - the aggregate watcher configuration
//   - the bounded notification cache
//
// Stores are byte-opaque; encoding and capacity rules live with the caller.
package storage
