// Package cedar implements the persistent key-value engine behind the
// kv.Store interface. It keeps the full data region in memory as a flat
// record log and mirrors every mutation into two memory-mapped files so
// that a crash at any point leaves at least one intact copy on disk.
//
// The package focuses on:
//   - A compact binary record layout addressed by byte offsets, with
//     in-place updates for fixed-size primitives and append+tombstone
//     updates for variable-size values
//   - Crash consistency through double-mirrored mmap files guarded by a
//     position-weighted rolling checksum and an in-progress size marker
//   - Incremental garbage collection that compacts tombstoned ranges in
//     place and repairs all in-memory offsets
//   - Spilling oversized values to sidecar files written through a
//     per-key serial executor
//
// Key components:
//
//   - store: the engine itself. All public operations serialize on one
//     store-level mutex and run to completion under it.
//
//   - Builder: creates stores and deduplicates them process-wide by
//     path+name. Opening the same files from two processes is undefined
//     behavior; an advisory lock file makes such violations visible.
//
//   - Writing modes: the default non-blocking mode patches both mmap
//     mirrors on every mutation. The blocking modes keep only the
//     in-memory buffer current and persist it wholesale through an
//     atomic tmp-file rename, either synchronously or on a coalescing
//     background executor. Any mmap I/O failure permanently degrades a
//     non-blocking store to async blocking.
package cedar
