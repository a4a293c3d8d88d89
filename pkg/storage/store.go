// Package storage provides the local KV store backing the certificate
// store, one bbolt file per (data_base_dir, device_id) pair (spec §6.3).
// Values are stored as given; pkg/certstore seals them before writing. It is grounded on the
// teacher's pkg/storage/boltdb.go bucket-per-kind, db.View/db.Update idiom,
// generalized into bucket-scoped transaction scopes reusable by any caller.
package storage

// Store is the local, transactional, bucket-oriented key-value store.
//
// ForWrite closures MUST NOT await unrelated I/O (spec §9's "browser
// auto-commit" contract): a closure that performs another store call or a
// network round trip inside ForWrite is a bug, not merely bad practice, on
// backends that auto-commit open transactions on suspension. Go's bbolt
// transactions do not actually auto-commit on goroutine scheduling the way a
// browser IndexedDB transaction does, so this is a correctness discipline we
// keep for parity with that contract rather than a hard runtime constraint.
type Store interface {
	// ForRead runs fn inside a read-only transaction. Concurrent reads do
	// not block each other or a concurrent write.
	ForRead(fn func(Tx) error) error

	// ForWrite runs fn inside an exclusive read-write transaction, committed
	// automatically on success and rolled back on any error/panic.
	ForWrite(fn func(Tx) error) error

	// Close releases the underlying file handle.
	Close() error
}

// Tx is the set of operations available inside a ForRead/ForWrite closure.
type Tx interface {
	// Bucket returns a handle to a named bucket, creating it on first write
	// access if it does not yet exist (no-op for read transactions).
	Bucket(name string) (Bucket, error)
}

// Bucket is a sorted key-value namespace within a transaction. Keys are
// compared byte-lexicographically, which callers use for ordered range scans
// (e.g. a big-endian-encoded timestamp suffix sorts chronologically).
type Bucket interface {
	Get(key []byte) ([]byte, error) // nil, nil if absent
	Put(key, value []byte) error
	Delete(key []byte) error

	// ForEachPrefix iterates keys with the given prefix in ascending order,
	// calling fn(key, value) for each. Iteration stops early if fn returns
	// false.
	ForEachPrefix(prefix []byte, fn func(key, value []byte) bool) error

	// ForEach iterates every key in the bucket in ascending order.
	ForEach(fn func(key, value []byte) bool) error

	// DeleteAll removes every key in the bucket (used by forget_all, spec §4.1).
	DeleteAll() error
}
