// Package memory provides in-process reference storage adapters for every
// storageport interface (outbox, inbox, queue, scheduled message, saga),
// suitable for tests and single-process deployments. Every type here holds
// its state behind a single mutex, following core/queue.MemoryStorage's
// "simple and correct over clever and concurrent" choice for a reference
// implementation: production deployments needing cross-process durability
// use storage/postgres or storage/redis instead.
package memory
