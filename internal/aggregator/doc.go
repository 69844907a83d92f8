// Package aggregator hosts the orchestration core: it owns the watcher
// registry, the aggregate watcher configuration, the bounded notification
// cache with its dedup gate, and the read-side query surface. All state is
// mutated under the service's own lock; watchers push batches in through the
// Ingest sink and consumers read immutable copies out.
package aggregator
