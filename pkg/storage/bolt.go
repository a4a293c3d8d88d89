package storage

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store using a single bbolt file, one physical bucket
// per logical bucket name, matching the teacher's NewBoltStore/db.Update
// pattern in pkg/storage/boltdb.go.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the device-local database file at
// <dataDir>/<deviceID>.parsec-db (spec §6.3: keyed by data_base_dir, device_id).
func Open(dataDir, deviceID string) (*BoltStore, error) {
	path := filepath.Join(dataDir, deviceID+".parsec-db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) ForRead(fn func(Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, writable: false})
	})
}

func (s *BoltStore) ForWrite(fn func(Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, writable: true})
	})
}

type boltTx struct {
	tx       *bolt.Tx
	writable bool
}

func (t *boltTx) Bucket(name string) (Bucket, error) {
	if t.writable {
		b, err := t.tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", name, err)
		}
		return &boltBucket{b: b}, nil
	}
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return &emptyBucket{}, nil
	}
	return &boltBucket{b: b}, nil
}

type boltBucket struct{ b *bolt.Bucket }

func (b *boltBucket) Get(key []byte) ([]byte, error) {
	v := b.b.Get(key)
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b *boltBucket) Delete(key []byte) error      { return b.b.Delete(key) }

func (b *boltBucket) ForEachPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	c := b.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

func (b *boltBucket) ForEach(fn func(key, value []byte) bool) error {
	err := b.b.ForEach(func(k, v []byte) error {
		if !fn(k, v) {
			return errStopIteration
		}
		return nil
	})
	if err == errStopIteration {
		return nil
	}
	return err
}

func (b *boltBucket) DeleteAll() error {
	c := b.b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.First() {
		if err := b.b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// emptyBucket is returned for Get-only access to a bucket that does not yet
// exist within a read-only transaction.
type emptyBucket struct{}

func (emptyBucket) Get(key []byte) ([]byte, error)                        { return nil, nil }
func (emptyBucket) Put(key, value []byte) error                           { return fmt.Errorf("storage: bucket not writable") }
func (emptyBucket) Delete(key []byte) error                               { return nil }
func (emptyBucket) ForEachPrefix(prefix []byte, fn func(k, v []byte) bool) error { return nil }
func (emptyBucket) ForEach(fn func(k, v []byte) bool) error               { return nil }
func (emptyBucket) DeleteAll() error                                      { return nil }

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

var errStopIteration = fmt.Errorf("storage: stop iteration")
