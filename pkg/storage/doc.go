/*
Package storage provides bbolt-backed, bucket-oriented persistence for the
certificate store. The workspace-history cache (pkg/history) is held in
memory and does not use it.

Each device keeps a single database file at <data_base_dir>/<device_id>.parsec-db.
Callers never touch *bolt.DB directly: they go through ForRead/ForWrite, which
hand a Tx scoped to one bbolt transaction to the caller's closure. Bucket keys
are plain byte slices so higher layers (certstore) can build composite,
lexicographically-sortable keys — e.g. a big-endian timestamp suffix keeps a
bucket's ForEach iteration order chronological without a secondary index.
*/
package storage
