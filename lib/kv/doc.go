// Package kv defines the public surface of the cedar key-value engine:
// the Store interface, the Encoder and Logger collaborator interfaces,
// and the process-wide configuration (logger, executor, internal limit).
//
// A Store is an embedded, single-process, typed map from string keys to
// primitive and binary values, persisted to local files with
// crash-consistent updates. Implementations live under engines/; the
// default one is engines/cedar, created through its Builder:
//
//	store, err := cedar.NewBuilder("/var/lib/myapp", "settings").Build()
//	if err != nil { ... }
//	_ = store.PutInt32("launch-count", 42)
//	n, _ := store.GetInt32("launch-count")
//
// Concurrent access from multiple processes to the same files is
// undefined behavior; within one process, Build deduplicates stores by
// path+name and every store is safe for concurrent use.
package kv
