package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// File keeps a store in a single regular file. The lock marker is a hidden
// sibling file named .<base>.lock holding the owner's PID.
type File struct {
	path     string
	lockPath string
}

// NewFile returns a File backend for path.
func NewFile(path string) *File {
	dir, base := filepath.Split(path)
	return &File{
		path:     path,
		lockPath: filepath.Join(dir, "."+base+".lock"),
	}
}

// Location returns the store path
func (f *File) Location() string {
	return f.path
}

// LockPath returns the path of the lock marker
func (f *File) LockPath() string {
	return f.lockPath
}

// Exists reports whether the store file exists
func (f *File) Exists() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Read returns the content of the store file
func (f *File) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return data, nil
}

// Write replaces the store file via a temp file in the same directory,
// then renames it over the target.
func (f *File) Write(data []byte) error {
	dir := filepath.Dir(f.path)
	base := filepath.Base(f.path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(FilePermSecure); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// AcquireLock creates the lock marker with O_EXCL
func (f *File) AcquireLock() (bool, error) {
	lf, err := os.OpenFile(f.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FilePermSecure)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, werr := lf.WriteString(strconv.Itoa(os.Getpid()))
	cerr := lf.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.lockPath)
		return false, errors.Join(werr, cerr)
	}
	return true, nil
}

// ReleaseLock removes the lock marker
func (f *File) ReleaseLock() error {
	err := os.Remove(f.lockPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LockHolder returns the PID recorded in the lock marker, or 0 and false
// when no marker is present.
func (f *File) LockHolder() (int, bool) {
	data, err := os.ReadFile(f.lockPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, true
	}
	return pid, true
}
