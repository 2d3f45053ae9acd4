package storage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket = []byte("config") // Database version
	StoresBucket = []byte("stores") // Store envelopes keyed by name
	LocksBucket  = []byte("locks")  // Advisory lock markers keyed by name
	MetaBucket   = []byte("meta")   // Per-store sub-buckets with timestamps
)

// Config and meta keys
var (
	ConfigVersion = []byte("version")
	MetaCreated   = []byte("created")
	MetaModified  = []byte("modified")
)

const (
	boltVersion        = "1"
	DefaultBoltTimeout = 2 * time.Second

	openAttempts = 5
)

var (
	ErrReplaced     = errors.New("database file kept being replaced during open")
	ErrStoresLocked = errors.New("database has stores with a held lock")
)

// Bolt keeps many named stores inside one BBolt database. The database is
// opened for each operation and closed again, so no process keeps the
// BBolt file lock between calls.
type Bolt struct {
	path    string
	name    string
	timeout time.Duration
}

// NewBolt returns a backend for the store called name inside the database
// at path
func NewBolt(path, name string) *Bolt {
	return &Bolt{
		path:    path,
		name:    name,
		timeout: DefaultBoltTimeout,
	}
}

// Location returns "<db path>#<store name>"
func (b *Bolt) Location() string {
	return b.path + "#" + b.name
}

// Name returns the store name inside the database
func (b *Bolt) Name() string {
	return b.name
}

func (b *Bolt) open(readOnly bool) (*bolt.DB, error) {
	return openDB(b.path, &bolt.Options{
		Timeout:  b.timeout,
		ReadOnly: readOnly,
	})
}

// openDB opens the database at path. Compact renames a fresh file over path
// while other processes may be waiting in bolt.Open for the file lock; such
// a handle points at the unlinked file and anything committed through it is
// lost, so it is closed and the open retried.
func openDB(path string, opts *bolt.Options) (*bolt.DB, error) {
	for attempt := 0; attempt < openAttempts; attempt++ {
		before, statErr := os.Stat(path)

		db, err := bolt.Open(path, FilePermSecure, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if statErr != nil {
			// Created by this open
			return db, nil
		}

		after, err := os.Stat(path)
		if err == nil && os.SameFile(before, after) {
			return db, nil
		}
		db.Close()
	}
	return nil, fmt.Errorf("%s: %w", path, ErrReplaced)
}

func (b *Bolt) dbExists() (bool, error) {
	_, err := os.Stat(b.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// view runs fn in a read-only transaction. found is false when the
// database file does not exist yet, in which case fn is not called.
func (b *Bolt) view(fn func(tx *bolt.Tx) error) (found bool, err error) {
	ok, err := b.dbExists()
	if err != nil || !ok {
		return false, err
	}

	db, err := b.open(true)
	if err != nil {
		return false, err
	}
	defer db.Close()

	return true, db.View(fn)
}

// update runs fn in a read-write transaction after making sure the bucket
// structure exists.
func (b *Bolt) update(fn func(tx *bolt.Tx) error) error {
	db, err := b.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		if err := initialize(tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

// initialize creates the bucket structure for a new database
func initialize(tx *bolt.Tx) error {
	for _, bucket := range [][]byte{ConfigBucket, StoresBucket, LocksBucket, MetaBucket} {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	config := tx.Bucket(ConfigBucket)
	if config.Get(ConfigVersion) == nil {
		return config.Put(ConfigVersion, []byte(boltVersion))
	}
	return nil
}

// Exists reports whether the named store has an envelope
func (b *Bolt) Exists() (bool, error) {
	var exists bool
	_, err := b.view(func(tx *bolt.Tx) error {
		stores := tx.Bucket(StoresBucket)
		exists = stores != nil && stores.Get([]byte(b.name)) != nil
		return nil
	})
	return exists, err
}

// Read returns the envelope of the named store
func (b *Bolt) Read() ([]byte, error) {
	var data []byte
	found, err := b.view(func(tx *bolt.Tx) error {
		stores := tx.Bucket(StoresBucket)
		if stores == nil {
			return nil
		}
		v := stores.Get([]byte(b.name))
		if v == nil {
			return nil
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found || data == nil {
		return nil, ErrNotExist
	}
	return data, nil
}

// Write stores the envelope and updates the modified timestamp in the
// same transaction
func (b *Bolt) Write(data []byte) error {
	return b.update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(StoresBucket).Put([]byte(b.name), data); err != nil {
			return err
		}

		meta, err := tx.Bucket(MetaBucket).CreateBucketIfNotExists([]byte(b.name))
		if err != nil {
			return err
		}
		now, _ := time.Now().MarshalBinary()
		if meta.Get(MetaCreated) == nil {
			if err := meta.Put(MetaCreated, now); err != nil {
				return err
			}
		}
		return meta.Put(MetaModified, now)
	})
}

// AcquireLock creates the lock marker. BBolt serialises writers, so the
// check and the put are atomic with respect to other processes.
func (b *Bolt) AcquireLock() (bool, error) {
	acquired := false
	err := b.update(func(tx *bolt.Tx) error {
		locks := tx.Bucket(LocksBucket)
		if locks.Get([]byte(b.name)) != nil {
			return nil
		}
		acquired = true
		return locks.Put([]byte(b.name), []byte(strconv.Itoa(os.Getpid())))
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseLock removes the lock marker
func (b *Bolt) ReleaseLock() error {
	ok, err := b.dbExists()
	if err != nil || !ok {
		return err
	}
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(LocksBucket).Delete([]byte(b.name))
	})
}

// IsLocked reports whether a lock marker exists for the named store
func (b *Bolt) IsLocked() (bool, error) {
	var locked bool
	_, err := b.view(func(tx *bolt.Tx) error {
		locks := tx.Bucket(LocksBucket)
		locked = locks != nil && locks.Get([]byte(b.name)) != nil
		return nil
	})
	return locked, err
}

// Modified returns the time of the last write to the named store
func (b *Bolt) Modified() (time.Time, error) {
	var modified time.Time
	found, err := b.view(func(tx *bolt.Tx) error {
		metas := tx.Bucket(MetaBucket)
		if metas == nil {
			return ErrNotExist
		}
		meta := metas.Bucket([]byte(b.name))
		if meta == nil {
			return ErrNotExist
		}
		data := meta.Get(MetaModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	if err == nil && !found {
		err = ErrNotExist
	}
	return modified, err
}

// ListStores returns the names of all stores in the database at path
func ListStores(path string) ([]string, error) {
	var names []string
	_, err := NewBolt(path, "").view(func(tx *bolt.Tx) error {
		stores := tx.Bucket(StoresBucket)
		if stores == nil {
			return nil
		}
		return stores.ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after password changes, which rewrite every page of an
// encrypted store. It refuses with ErrStoresLocked while any store has a
// lock marker, since the holder may still write.
func Compact(path string) error {
	tmpPath := path + ".compact"

	src, err := openDB(path, &bolt.Options{Timeout: DefaultBoltTimeout})
	if err != nil {
		return err
	}
	defer src.Close()

	err = src.View(func(tx *bolt.Tx) error {
		locks := tx.Bucket(LocksBucket)
		if locks == nil {
			return nil
		}
		if k, _ := locks.Cursor().First(); k != nil {
			return fmt.Errorf("%w: %s", ErrStoresLocked, k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Create new database
	dst, err := bolt.Open(tmpPath, FilePermSecure, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = src.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return copyBucket(srcBucket, dstBucket)
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	// Atomic replace while still holding the source file lock. Processes
	// blocked on that lock notice the replacement in openDB.
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace database: %w", err)
	}

	return nil
}

// copyBucket copies keys and nested buckets (the meta bucket nests one
// bucket per store)
func copyBucket(src, dst *bolt.Bucket) error {
	return src.ForEach(func(k, v []byte) error {
		if v != nil {
			return dst.Put(k, v)
		}
		child, err := dst.CreateBucketIfNotExists(k)
		if err != nil {
			return err
		}
		return copyBucket(src.Bucket(k), child)
	})
}
