// Package storage provides the raw I/O backends for walletvault stores.
//
// Every backend stores one opaque envelope per location and one advisory
// lock marker next to it:
//   - File: the envelope is a regular file, replaced atomically via
//     temp file + rename; the marker is a hidden .<name>.lock file
//     created with O_EXCL
//   - Bolt: many named stores share one BBolt database; envelopes, lock
//     markers and timestamps live in separate buckets and every change is
//     a single ACID transaction
//   - Memory: an in-process double for tests
//
// Backends never interpret the envelope; that is the format package's job.
package storage
