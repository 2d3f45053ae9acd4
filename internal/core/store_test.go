package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/illarion/walletvault/internal/crypto"
	"github.com/illarion/walletvault/internal/format"
	"github.com/illarion/walletvault/internal/storage"
)

// Cheap parameters keep the tests fast
var testKDF = crypto.KDFParams{
	Algorithm:  crypto.KDFArgon2id,
	Iterations: 1,
	Memory:     64,
	Threads:    1,
}

func opts(password string) Options {
	o := Options{KDF: testKDF}
	if password != "" {
		o.Password = []byte(password)
	}
	return o
}

func createStore(t *testing.T, backend storage.Backend, password string) *Store {
	t.Helper()
	o := opts(password)
	o.Create = true
	s, err := Open(backend, o)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func openStore(t *testing.T, backend storage.Backend, password string) *Store {
	t.Helper()
	s, err := Open(backend, opts(password))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func TestCreateAndReopen(t *testing.T) {
	tests := []struct {
		name     string
		password string
		kdf      crypto.KDFParams
		cipher   crypto.Cipher
	}{
		{"plaintext", "", testKDF, 0},
		{"argon2id aes-gcm", "secret", testKDF, crypto.CipherAESGCM},
		{"argon2id xchacha", "secret", testKDF, crypto.CipherXChaCha20Poly1305},
		{"pbkdf2 aes-gcm", "secret", crypto.KDFParams{Algorithm: crypto.KDFPBKDF2, Iterations: 1000}, crypto.CipherAESGCM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := storage.NewMemory("mem")
			o := Options{Create: true, KDF: tt.kdf, Cipher: tt.cipher}
			if tt.password != "" {
				o.Password = []byte(tt.password)
			}

			s, err := Open(backend, o)
			if err != nil {
				t.Fatalf("Open(create) failed: %v", err)
			}
			if got := s.IsEncrypted(); got != (tt.password != "") {
				t.Errorf("IsEncrypted = %v", got)
			}
			if len(s.Data()) != 0 {
				t.Errorf("new store should be empty, got %d entries", len(s.Data()))
			}

			s.Data()["\x00\xffbinary"] = []byte{0, 1, 2, 0xff}
			s.Put("k1", []byte("v1"))
			s.Put("empty", nil)
			if err := s.Save(); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			o.Create = false
			s, err = Open(backend, o)
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			defer s.Close()

			want := map[string][]byte{
				"\x00\xffbinary": {0, 1, 2, 0xff},
				"k1":             []byte("v1"),
				"empty":          {},
			}
			if len(s.Data()) != len(want) {
				t.Fatalf("got %d entries, want %d", len(s.Data()), len(want))
			}
			for k, v := range want {
				got, ok := s.Get(k)
				if !ok || !bytes.Equal(got, v) {
					t.Errorf("Get(%q) = %q, %v; want %q", k, got, ok, v)
				}
			}
			if s.WasChanged() {
				t.Error("freshly opened store reports changes")
			}
		})
	}
}

func TestCreateOccupiedLocation(t *testing.T) {
	t.Run("existing store", func(t *testing.T) {
		backend := storage.NewMemory("mem")
		createStore(t, backend, "").Close()

		o := opts("")
		o.Create = true
		if _, err := Open(backend, o); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("foreign bytes", func(t *testing.T) {
		backend := storage.NewMemoryWith("mem", []byte("hello"))
		o := opts("")
		o.Create = true
		if _, err := Open(backend, o); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
		if string(backend.Bytes()) != "hello" {
			t.Error("foreign file was overwritten")
		}
	})

	t.Run("locked location", func(t *testing.T) {
		backend := storage.NewMemory("mem")
		if ok, _ := backend.AcquireLock(); !ok {
			t.Fatal("failed to plant lock marker")
		}
		o := opts("")
		o.Create = true
		if _, err := Open(backend, o); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
		if backend.Writes() != 0 {
			t.Error("backend written despite lock")
		}
	})
}

func TestOpenErrors(t *testing.T) {
	encrypted := storage.NewMemory("enc")
	createStore(t, encrypted, "pw1").Close()

	tests := []struct {
		name     string
		backend  storage.Backend
		password string
		want     error
	}{
		{"missing", storage.NewMemory("none"), "", ErrNotFound},
		{"missing with password", storage.NewMemory("none"), "pw", ErrNotFound},
		{"foreign", storage.NewMemoryWith("f", []byte("not a store at all")), "", ErrNotAStore},
		{"foreign with password", storage.NewMemoryWith("f", []byte("not a store at all")), "pw", ErrNotAStore},
		{"empty file", storage.NewMemoryWith("f", nil), "", ErrNotAStore},
		{"short", storage.NewMemoryWith("f", []byte("WLT")), "pw", ErrNotAStore},
		{"truncated header", storage.NewMemoryWith("f", append([]byte(nil), format.MagicEncrypted...)), "pw", ErrNotAStore},
		{"bad payload", storage.NewMemoryWith("f", format.EncodePlain([]byte{0xff, 0xff})), "", ErrNotAStore},
		{"no password", encrypted, "", ErrPasswordRequired},
		{"wrong password", encrypted, "pw2", ErrWrongPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.backend, opts(tt.password))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if s != nil {
				t.Error("failed open returned a store")
			}
			if m, ok := tt.backend.(*storage.Memory); ok && m.Locked() {
				t.Error("failed open left the lock held")
			}
		})
	}
}

func TestHostileKDFHeaderRejected(t *testing.T) {
	backend := storage.NewMemory("mem")
	createStore(t, backend, "pw").Close()

	// Ask for 4 GiB of argon2id memory; must fail before any derivation
	data := backend.Bytes()
	binary.BigEndian.PutUint32(data[format.MagicSize+7:], 4*1024*1024)
	backend.SetBytes(data)

	if _, err := Open(backend, opts("pw")); !errors.Is(err, ErrNotAStore) {
		t.Errorf("expected ErrNotAStore, got %v", err)
	}
	if backend.Locked() {
		t.Error("failed open left the lock held")
	}
}

func TestWrongPasswordNotConfusedWithCorruption(t *testing.T) {
	backend := storage.NewMemory("mem")
	createStore(t, backend, "pw1").Close()

	if _, err := Open(backend, opts("pw2")); errors.Is(err, ErrNotAStore) {
		t.Errorf("wrong password reported as not a store: %v", err)
	}

	// Flipping a ciphertext bit is an authentication failure too
	data := backend.Bytes()
	data[len(data)-1] ^= 0x01
	backend.SetBytes(data)
	if _, err := Open(backend, opts("pw1")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("expected ErrWrongPassword for tampered ciphertext, got %v", err)
	}
}

func TestHeaderIsAuthenticated(t *testing.T) {
	backend := storage.NewMemory("mem")
	createStore(t, backend, "pw").Close()

	data := backend.Bytes()
	saltOffset := format.MagicSize + 13
	data[saltOffset] ^= 0x01
	backend.SetBytes(data)

	if _, err := Open(backend, opts("pw")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("expected ErrWrongPassword for tampered header, got %v", err)
	}
}

func TestWasChanged(t *testing.T) {
	backend := storage.NewMemory("mem")
	s := createStore(t, backend, "pw")
	defer s.Close()

	if s.WasChanged() {
		t.Error("new store reports changes")
	}

	s.Put("k", []byte("value"))
	if !s.WasChanged() {
		t.Error("Put not detected")
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.WasChanged() {
		t.Error("WasChanged true right after Save")
	}

	// In-place mutation of a value through the live map
	s.Data()["k"][0] = 'V'
	if !s.WasChanged() {
		t.Error("in-place value mutation not detected")
	}

	// Reverting restores the clean state
	s.Data()["k"][0] = 'v'
	if s.WasChanged() {
		t.Error("reverted mutation still reported")
	}

	s.Delete("k")
	if !s.WasChanged() {
		t.Error("Delete not detected")
	}
}

func TestSaveReusesSaltWithFreshNonce(t *testing.T) {
	backend := storage.NewMemory("mem")
	s := createStore(t, backend, "pw")
	defer s.Close()

	s.Put("k", []byte("v"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first := backend.Bytes()

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second := backend.Bytes()

	env1, err := format.Parse(first)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	env2, err := format.Parse(second)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(env1.HeaderBytes, env2.HeaderBytes) {
		t.Error("Save changed the header")
	}
	if bytes.Equal(env1.Payload, env2.Payload) {
		t.Error("identical ciphertext across saves, nonce reused")
	}
}

func TestReadOnly(t *testing.T) {
	backend := storage.NewMemory("mem")
	w := createStore(t, backend, "pw")
	w.Put("k", []byte("v"))
	if err := w.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	writes := backend.Writes()

	o := opts("pw")
	o.ReadOnly = true
	r, err := Open(backend, o)
	if err != nil {
		t.Fatalf("read-only open while writer active failed: %v", err)
	}
	defer r.Close()

	if r.IsLocked() {
		t.Error("read-only session holds the lock")
	}
	if !r.ReadOnly() {
		t.Error("ReadOnly = false")
	}

	r.Put("other", []byte("x"))
	if err := r.Save(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Save: expected ErrReadOnly, got %v", err)
	}
	if err := r.ChangePassword([]byte("new")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("ChangePassword: expected ErrReadOnly, got %v", err)
	}
	if backend.Writes() != writes {
		t.Error("read-only session wrote to the backend")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !w.IsLocked() || !backend.Locked() {
		t.Error("closing a read-only session released the writer's lock")
	}
	w.Close()
}

func TestLockContention(t *testing.T) {
	backend := storage.NewMemory("mem")
	first := createStore(t, backend, "")
	if !first.IsLocked() {
		t.Fatal("created store should hold the lock")
	}

	if _, err := Open(backend, opts("")); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if first.IsLocked() {
		t.Error("IsLocked true after Close")
	}
	if backend.Locked() {
		t.Error("marker still present after Close")
	}

	second := openStore(t, backend, "")
	defer second.Close()
	if !second.IsLocked() {
		t.Error("second session should hold the lock")
	}
}

func TestChangePassword(t *testing.T) {
	backend := storage.NewMemory("mem")
	s := createStore(t, backend, "pw1")
	s.Put("k1", []byte("v1"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	before := backend.Bytes()

	// Unsaved changes are persisted by the rotation
	s.Put("k2", []byte("v2"))
	if err := s.ChangePassword([]byte("pw2")); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	after := backend.Bytes()
	if bytes.Equal(before, after) {
		t.Error("on-disk bytes unchanged by rotation")
	}
	if !s.IsEncrypted() {
		t.Error("IsEncrypted = false after rotating to a password")
	}
	if s.WasChanged() {
		t.Error("WasChanged true right after rotation")
	}

	envBefore, _ := format.Parse(before)
	envAfter, _ := format.Parse(after)
	if bytes.Equal(envBefore.Header.KDF.Salt, envAfter.Header.KDF.Salt) {
		t.Error("rotation kept the old salt")
	}

	// Remove encryption
	if err := s.ChangePassword(nil); err != nil {
		t.Fatalf("ChangePassword(nil) failed: %v", err)
	}
	if s.IsEncrypted() {
		t.Error("IsEncrypted = true after removing the password")
	}
	if format.Sniff(backend.Bytes()) != format.KindPlain {
		t.Error("store not rewritten as plaintext")
	}

	// Saves after removal stay plaintext
	s.Put("k3", []byte("v3"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if IsEncryptedStorageFile(backend) {
		t.Error("save after removing password wrote an encrypted envelope")
	}
	s.Close()

	s = openStore(t, backend, "")
	defer s.Close()
	if len(s.Data()) != 3 {
		t.Errorf("got %d entries, want 3", len(s.Data()))
	}
}

// failingBackend wraps a Memory backend and fails writes on demand
type failingBackend struct {
	*storage.Memory
	failWrites bool
}

var errWriteFailed = errors.New("disk full")

func (f *failingBackend) Write(data []byte) error {
	if f.failWrites {
		return errWriteFailed
	}
	return f.Memory.Write(data)
}

func TestChangePasswordWriteFailure(t *testing.T) {
	backend := &failingBackend{Memory: storage.NewMemory("mem")}
	s := createStore(t, backend, "pw1")
	defer s.Close()
	s.Put("k", []byte("v"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	onDisk := backend.Bytes()

	backend.failWrites = true
	if err := s.ChangePassword([]byte("pw2")); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write error, got %v", err)
	}
	if err := s.ChangePassword(nil); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write error, got %v", err)
	}
	if !bytes.Equal(backend.Bytes(), onDisk) {
		t.Error("failed rotation changed the stored bytes")
	}
	if !s.IsEncrypted() {
		t.Error("failed rotation dropped encryption")
	}

	// The old key is still in use
	backend.failWrites = false
	s.Put("k2", []byte("v2"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Close()

	if _, err := Open(backend, opts("pw2")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("new password accepted after failed rotation: %v", err)
	}
	r := openStore(t, backend, "pw1")
	defer r.Close()
	if _, ok := r.Get("k2"); !ok {
		t.Error("save after failed rotation lost data")
	}
}

func TestSaveWriteFailureKeepsDirtyState(t *testing.T) {
	backend := &failingBackend{Memory: storage.NewMemory("mem")}
	s := createStore(t, backend, "")
	defer s.Close()

	s.Put("k", []byte("v"))
	backend.failWrites = true
	if err := s.Save(); !errors.Is(err, errWriteFailed) {
		t.Fatalf("expected write error, got %v", err)
	}
	if !s.WasChanged() {
		t.Error("failed save cleared the dirty state")
	}
}

func TestPlaintextStoreWithPassword(t *testing.T) {
	backend := storage.NewMemory("mem")
	createStore(t, backend, "").Close()

	s := openStore(t, backend, "unused")
	defer s.Close()
	if s.IsEncrypted() {
		t.Error("plaintext store reported as encrypted")
	}

	s.Put("k", []byte("v"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if format.Sniff(backend.Bytes()) != format.KindPlain {
		t.Error("supplying a password encrypted a plaintext store on save")
	}
}

func TestClose(t *testing.T) {
	backend := storage.NewMemory("mem")
	s := createStore(t, backend, "pw")

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if s.IsLocked() || backend.Locked() {
		t.Error("lock held after Close")
	}
	if !s.IsEncrypted() {
		t.Error("IsEncrypted must still describe the persisted store after Close")
	}
	if err := s.Save(); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close: expected ErrClosed, got %v", err)
	}
	if err := s.ChangePassword(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("ChangePassword after Close: expected ErrClosed, got %v", err)
	}
}

func TestStorageFileSniffing(t *testing.T) {
	missing := storage.NewMemory("missing")
	if IsStorageFile(missing) || IsEncryptedStorageFile(missing) {
		t.Error("missing location reported as a store")
	}

	foreign := storage.NewMemoryWith("foreign", []byte("#!/bin/sh\n"))
	if IsStorageFile(foreign) || IsEncryptedStorageFile(foreign) {
		t.Error("foreign bytes reported as a store")
	}

	short := storage.NewMemoryWith("short", []byte("W"))
	if IsStorageFile(short) {
		t.Error("short input reported as a store")
	}

	plain := storage.NewMemory("plain")
	createStore(t, plain, "").Close()
	if !IsStorageFile(plain) {
		t.Error("plaintext store not recognized")
	}
	if IsEncryptedStorageFile(plain) {
		t.Error("plaintext store reported as encrypted")
	}

	enc := storage.NewMemory("enc")
	s := createStore(t, enc, "pw")
	if !IsStorageFile(enc) || !IsEncryptedStorageFile(enc) {
		t.Error("encrypted store not recognized")
	}
	if err := s.ChangePassword(nil); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if IsEncryptedStorageFile(enc) {
		t.Error("store still reported encrypted after removing the password")
	}
	s.Close()
}

func TestKeysSorted(t *testing.T) {
	s := createStore(t, storage.NewMemory("mem"), "")
	defer s.Close()

	for _, k := range []string{"c", "a", "b"} {
		s.Put(k, []byte(k))
	}
	keys := s.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("Keys = %v", keys)
	}
	if !s.Delete("a") || s.Delete("a") {
		t.Error("Delete should report presence once")
	}
}

// Create with pw1, save, reopen, reject pw2, then drop the password and
// reopen without one.
func TestPasswordLifecycle(t *testing.T) {
	backend := storage.NewMemory("mem")

	s := createStore(t, backend, "pw1")
	s.Put("k1", []byte("v1"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Close()

	s = openStore(t, backend, "pw1")
	if v, ok := s.Get("k1"); !ok || string(v) != "v1" {
		t.Errorf("Get(k1) = %q, %v", v, ok)
	}
	s.Close()

	if _, err := Open(backend, opts("pw2")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("expected ErrWrongPassword, got %v", err)
	}

	s = openStore(t, backend, "pw1")
	if err := s.ChangePassword(nil); err != nil {
		t.Fatalf("ChangePassword(nil) failed: %v", err)
	}
	s.Close()

	s = openStore(t, backend, "")
	defer s.Close()
	if v, ok := s.Get("k1"); !ok || string(v) != "v1" {
		t.Errorf("Get(k1) after removing password = %q, %v", v, ok)
	}
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.vault")
	backend := storage.NewFile(path)

	s := createStore(t, backend, "pw")
	s.Put("seed", []byte("correct horse battery staple"))
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(backend.LockPath()); err != nil {
		t.Errorf("lock marker missing while open: %v", err)
	}
	if _, err := Open(storage.NewFile(path), opts("pw")); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked from second writer, got %v", err)
	}
	s.Close()

	if _, err := os.Stat(backend.LockPath()); !os.IsNotExist(err) {
		t.Error("lock marker left behind after Close")
	}

	if !IsEncryptedStorageFile(storage.NewFile(path)) {
		t.Error("file not recognized as encrypted store")
	}

	s = openStore(t, storage.NewFile(path), "pw")
	defer s.Close()
	if v, _ := s.Get("seed"); string(v) != "correct horse battery staple" {
		t.Errorf("Get(seed) = %q", v)
	}

	foreign := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(foreign, []byte("just some notes"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if IsStorageFile(storage.NewFile(foreign)) {
		t.Error("text file reported as a store")
	}
	if _, err := Open(storage.NewFile(foreign), opts("pw")); !errors.Is(err, ErrNotAStore) {
		t.Errorf("expected ErrNotAStore, got %v", err)
	}
	if _, err := os.Stat(storage.NewFile(foreign).LockPath()); !os.IsNotExist(err) {
		t.Error("failed open left a lock marker")
	}
}

func TestBoltBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wallets.db")

	a := createStore(t, storage.NewBolt(dbPath, "alice"), "pw-a")
	b := createStore(t, storage.NewBolt(dbPath, "bob"), "")
	a.Put("k", []byte("alice"))
	b.Put("k", []byte("bob"))
	if err := a.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := b.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := Open(storage.NewBolt(dbPath, "alice"), opts("pw-a")); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	a.Close()
	b.Close()

	if !IsEncryptedStorageFile(storage.NewBolt(dbPath, "alice")) {
		t.Error("alice should be encrypted")
	}
	if IsEncryptedStorageFile(storage.NewBolt(dbPath, "bob")) {
		t.Error("bob should be plaintext")
	}

	s := openStore(t, storage.NewBolt(dbPath, "alice"), "pw-a")
	defer s.Close()
	if v, _ := s.Get("k"); string(v) != "alice" {
		t.Errorf("Get(k) = %q", v)
	}
}
