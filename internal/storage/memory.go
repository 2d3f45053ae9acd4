package storage

import "sync"

// Memory is an in-process backend for tests. Several engines sharing one
// Memory see the same content and contend for the same lock marker.
type Memory struct {
	mu     sync.Mutex
	name   string
	data   []byte
	exists bool
	locked bool
	writes int
}

// NewMemory returns an empty Memory backend
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// NewMemoryWith returns a Memory backend already holding data
func NewMemoryWith(name string, data []byte) *Memory {
	m := &Memory{name: name}
	m.SetBytes(data)
	return m
}

func (m *Memory) Location() string {
	return m.name
}

func (m *Memory) Exists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists, nil
}

func (m *Memory) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return nil, ErrNotExist
	}
	return append([]byte{}, m.data...), nil
}

func (m *Memory) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte{}, data...)
	m.exists = true
	m.writes++
	return nil
}

func (m *Memory) AcquireLock() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false, nil
	}
	m.locked = true
	return true, nil
}

func (m *Memory) ReleaseLock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}

// Bytes returns a copy of the stored content, or nil if nothing is stored.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return nil
	}
	return append([]byte{}, m.data...)
}

// SetBytes replaces the stored content without counting as a write.
func (m *Memory) SetBytes(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte{}, data...)
	m.exists = true
}

// Locked reports whether the lock marker is present.
func (m *Memory) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Writes returns how many times Write was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
