package storage

import "errors"

const (
	FilePermSecure = 0600 // File: owner rw only
	DirPermSecure  = 0700 // Directory: owner rwx only
)

// ErrNotExist is returned by Read when nothing is stored at the location.
var ErrNotExist = errors.New("store does not exist")

// Backend is the raw I/O the storage engine runs on: whole-content reads
// and writes of one store plus its advisory lock marker.
type Backend interface {
	// Location identifies the store in messages and keyring entries.
	Location() string

	// Exists reports whether anything is stored at the location.
	Exists() (bool, error)

	// Read returns the full stored content, or ErrNotExist.
	Read() ([]byte, error)

	// Write replaces the full content. A concurrent Read sees either the
	// old or the new content, never a mix.
	Write(data []byte) error

	// AcquireLock atomically creates the lock marker. It returns false
	// without error when the marker already exists.
	AcquireLock() (bool, error)

	// ReleaseLock removes the lock marker. A missing marker is not an error.
	ReleaseLock() error
}
