/*
Package docyard provides the embedded document-storage and query core used by
a replication-capable mobile data layer.

Documents are schemaless: an opaque body plus metadata (version, flags,
expiration), indexed by primary key and by a monotonically increasing
sequence number. Each named key store is logically split into a live store
and a dead store (tombstones); the two share one sequence allocator and are
merged into a single sorted stream on enumeration.

On top of the primary store sits a query engine that compiles a JSON-shaped
selector into SQL over the underlying SQLite file and streams results through
a paged, snapshot-stable enumerator supporting seek, row counting, refresh,
and full-text match terms.

# Concurrency

A Database may be called from multiple goroutines. Writes are serialized per
file: at most one transaction is active on a given path at a time, and other
writers block until the slot frees. Reads run concurrently with each other
and with the active writer at read-committed isolation. Individual
RecordEnumerator and QueryEnumerator instances are not safe for concurrent
use; each goroutine should use its own.
*/
package docyard
