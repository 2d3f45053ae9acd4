// Package core implements the walletvault storage engine.
//
// A Store is one session on a key-value store kept by a storage.Backend:
//   - Open: create a new store or load an existing one, taking the advisory
//     write lock unless the session is read-only
//   - Data, Get, Put, Delete: work on the in-memory mapping
//   - WasChanged: compare the mapping against the last persisted digest
//   - Save: write the mapping back, encrypted if a password is set
//   - ChangePassword: re-key with a fresh salt, or drop encryption
//   - Close: release the lock and wipe key material
//
// The package also carries helpers for the command line tool: terminal
// password prompts and mapping comparison.
package core
