// Package lock implements the advisory, marker-based write lock that keeps
// at most one writable session open on a store.
//
// The marker itself is created and removed by the storage backend; this
// package only tracks whether the current session holds it. Read-only
// sessions never look at the marker, so they are never blocked by it and
// never block anyone else.
package lock

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when another session already holds the marker.
var ErrBusy = errors.New("lock marker already present")

// Locker creates and removes the advisory marker for one location.
// AcquireLock must be atomic create-if-absent and report an existing marker
// as (false, nil).
type Locker interface {
	AcquireLock() (bool, error)
	ReleaseLock() error
}

// Manager tracks the lock state of a single session.
type Manager struct {
	locker   Locker
	readOnly bool
	held     bool
}

// New returns a Manager for locker. A read-only manager never touches the
// marker.
func New(locker Locker, readOnly bool) *Manager {
	return &Manager{
		locker:   locker,
		readOnly: readOnly,
	}
}

// Acquire takes the marker. It fails immediately with ErrBusy on
// contention; there is no waiting or retry.
func (m *Manager) Acquire() error {
	if m.readOnly || m.held {
		return nil
	}

	ok, err := m.locker.AcquireLock()
	if err != nil {
		return fmt.Errorf("failed to create lock marker: %w", err)
	}
	if !ok {
		return ErrBusy
	}

	m.held = true
	return nil
}

// Release removes the marker if this session holds it. Releasing an unheld
// lock is a no-op.
func (m *Manager) Release() error {
	if !m.held {
		return nil
	}

	if err := m.locker.ReleaseLock(); err != nil {
		return fmt.Errorf("failed to remove lock marker: %w", err)
	}

	m.held = false
	return nil
}

// Held reports whether this session holds the marker.
func (m *Manager) Held() bool {
	return m.held
}
