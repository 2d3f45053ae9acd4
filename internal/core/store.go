package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/illarion/walletvault/internal/codec"
	"github.com/illarion/walletvault/internal/crypto"
	"github.com/illarion/walletvault/internal/format"
	"github.com/illarion/walletvault/internal/lock"
	"github.com/illarion/walletvault/internal/storage"
)

var (
	ErrNotFound         = errors.New("store not found")
	ErrAlreadyExists    = errors.New("store already exists")
	ErrLocked           = errors.New("store is locked by another session")
	ErrNotAStore        = errors.New("not a walletvault store")
	ErrPasswordRequired = errors.New("password required")
	ErrWrongPassword    = errors.New("wrong password")
	ErrReadOnly         = errors.New("store is open read-only")
	ErrClosed           = errors.New("store is closed")
)

// Options control how Open treats the backend.
type Options struct {
	// Password encrypts a new store and decrypts an existing one. An empty
	// password means none.
	Password []byte

	// ReadOnly sessions never write and never touch the lock marker.
	ReadOnly bool

	// Create initialises a new, empty store instead of opening one.
	Create bool

	// KDF and Cipher are used when a new key is derived (creation and
	// password changes). Zero values select the defaults; an opened
	// encrypted store keeps its own parameters unless these are set.
	KDF    crypto.KDFParams
	Cipher crypto.Cipher

	Logger *slog.Logger
}

// Store is an open session on one key-value store.
type Store struct {
	backend  storage.Backend
	lock     *lock.Manager
	logger   *slog.Logger
	readOnly  bool
	closed    bool
	encrypted bool

	data   map[string][]byte
	digest [32]byte

	// Key material, set only while the store is encrypted
	password []byte
	kdf      *crypto.KDF
	key      []byte

	kdfParams crypto.KDFParams
	cipher    crypto.Cipher
}

// Open creates or opens the store behind backend. On failure nothing is
// left acquired.
func Open(backend storage.Backend, opts Options) (*Store, error) {
	s := &Store{
		backend:   backend,
		lock:      lock.New(backend, opts.ReadOnly),
		logger:    opts.Logger,
		readOnly:  opts.ReadOnly,
		kdfParams: opts.KDF,
		cipher:    opts.Cipher,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var err error
	if opts.Create {
		err = s.create(opts.Password)
	} else {
		err = s.load(opts.Password)
	}
	if err != nil {
		if rerr := s.lock.Release(); rerr != nil {
			s.logger.Warn("failed to release lock after open error",
				"location", backend.Location(), "error", rerr)
		}
		s.clearKey()
		return nil, err
	}

	s.logger.Debug("store opened",
		"location", backend.Location(),
		"encrypted", s.IsEncrypted(),
		"read_only", s.readOnly,
		"entries", len(s.data))
	return s, nil
}

func (s *Store) create(password []byte) error {
	loc := s.backend.Location()

	exists, err := s.backend.Exists()
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", loc, err)
	}
	if exists {
		return fmt.Errorf("%s: %w", loc, ErrAlreadyExists)
	}

	if err := s.lock.Acquire(); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return fmt.Errorf("%s: %w", loc, ErrAlreadyExists)
		}
		return err
	}

	s.data = make(map[string][]byte)
	if len(password) > 0 {
		if err := s.rekey(password); err != nil {
			return err
		}
	}

	envelope, err := s.seal(s.data)
	if err != nil {
		return err
	}
	if err := s.backend.Write(envelope); err != nil {
		return fmt.Errorf("failed to write %s: %w", loc, err)
	}
	s.encrypted = s.key != nil
	s.digest = codec.Digest(s.data)
	return nil
}

func (s *Store) load(password []byte) error {
	loc := s.backend.Location()

	exists, err := s.backend.Exists()
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", loc, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", loc, ErrNotFound)
	}

	if err := s.lock.Acquire(); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return fmt.Errorf("%s: %w", loc, ErrLocked)
		}
		return err
	}

	raw, err := s.backend.Read()
	if errors.Is(err, storage.ErrNotExist) {
		return fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", loc, err)
	}

	env, err := format.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", loc, ErrNotAStore, err)
	}

	payload := env.Payload
	if env.Kind == format.KindEncrypted {
		if len(password) == 0 {
			return fmt.Errorf("%s: %w", loc, ErrPasswordRequired)
		}
		payload, err = s.unseal(env, password)
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(payload)
	} else if len(password) > 0 {
		s.logger.Warn("store is not encrypted, ignoring password", "location", loc)
	}

	data, err := codec.Decode(payload)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", loc, ErrNotAStore, err)
	}

	s.data = data
	s.digest = codec.Digest(data)
	return nil
}

// unseal derives the key from the header parameters and decrypts the
// payload. On success the key material is retained for later saves.
func (s *Store) unseal(env *format.Envelope, password []byte) ([]byte, error) {
	kdf := env.Header.KDF
	key, err := kdf.DeriveKey(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", s.backend.Location(), ErrNotAStore, err)
	}

	enc := crypto.NewEncryptor(key, env.Header.Cipher)
	plaintext, err := enc.Decrypt(env.Payload, env.HeaderBytes)
	if err != nil {
		crypto.ClearBytes(key)
		if errors.Is(err, crypto.ErrAuthFailed) {
			return nil, fmt.Errorf("%s: %w", s.backend.Location(), ErrWrongPassword)
		}
		return nil, fmt.Errorf("%s: %w: %v", s.backend.Location(), ErrNotAStore, err)
	}

	s.password = bytes.Clone(password)
	s.kdf = &kdf
	s.key = key
	s.encrypted = true
	if s.kdfParams.Algorithm == 0 {
		s.kdfParams = kdf.KDFParams
	}
	if s.cipher == 0 {
		s.cipher = env.Header.Cipher
	}
	return plaintext, nil
}

// rekey derives a new key with a fresh salt and installs it
func (s *Store) rekey(password []byte) error {
	kdf, key, err := s.deriveFresh(password)
	if err != nil {
		return err
	}
	s.clearKey()
	s.password = bytes.Clone(password)
	s.kdf = kdf
	s.key = key
	return nil
}

func (s *Store) deriveFresh(password []byte) (*crypto.KDF, []byte, error) {
	params := s.kdfParams
	if params.Algorithm == 0 {
		params = crypto.DefaultKDFParams(crypto.KDFArgon2id)
	}
	kdf, err := crypto.NewKDF(params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create KDF: %w", err)
	}
	key, err := kdf.DeriveKey(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return kdf, key, nil
}

func (s *Store) cipherOrDefault() crypto.Cipher {
	if s.cipher == 0 {
		return crypto.CipherAESGCM
	}
	return s.cipher
}

// seal serializes m into an envelope under the current key, or as a plain
// envelope when there is no key.
func (s *Store) seal(m map[string][]byte) ([]byte, error) {
	return sealWith(m, s.kdf, s.key, s.cipherOrDefault())
}

func sealWith(m map[string][]byte, kdf *crypto.KDF, key []byte, c crypto.Cipher) ([]byte, error) {
	payload := codec.Encode(m)
	if kdf == nil {
		return format.EncodePlain(payload), nil
	}
	defer crypto.ClearBytes(payload)

	header := &format.Header{KDF: *kdf, Cipher: c}
	headerBytes, err := header.Marshal()
	if err != nil {
		return nil, err
	}

	enc := crypto.NewEncryptor(key, c)
	sealed, err := enc.Encrypt(payload, headerBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return format.EncodeEncrypted(headerBytes, sealed), nil
}

// Location returns the backend location
func (s *Store) Location() string {
	return s.backend.Location()
}

// ReadOnly reports whether the session was opened read-only
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// IsEncrypted reports whether the store is persisted encrypted, as of the
// last load, save or password change. Close does not change it.
func (s *Store) IsEncrypted() bool {
	return s.encrypted
}

// IsLocked reports whether this session holds the write lock.
func (s *Store) IsLocked() bool {
	return s.lock.Held()
}

// WasChanged reports whether the mapping differs from what was last loaded
// or saved. Mutations through the map returned by Data are detected too.
func (s *Store) WasChanged() bool {
	return codec.Digest(s.data) != s.digest
}

// Data returns the live mapping. Changes to it are persisted by Save.
func (s *Store) Data() map[string][]byte {
	return s.data
}

// Get returns the value stored under key
func (s *Store) Get(key string) ([]byte, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Put stores a copy of value under key
func (s *Store) Put(key string, value []byte) {
	s.data[key] = append([]byte{}, value...)
}

// Delete removes key and reports whether it was present
func (s *Store) Delete(key string) bool {
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Keys returns all keys in sorted order
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return fmt.Errorf("%s: %w", s.backend.Location(), ErrReadOnly)
	}
	return nil
}

// Save writes the mapping to the backend. An encrypted store keeps its salt
// and key; every write uses a fresh nonce.
func (s *Store) Save() error {
	if err := s.writable(); err != nil {
		return err
	}

	envelope, err := s.seal(s.data)
	if err != nil {
		return err
	}
	if err := s.backend.Write(envelope); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.backend.Location(), err)
	}

	s.digest = codec.Digest(s.data)
	s.logger.Debug("store saved",
		"location", s.backend.Location(),
		"encrypted", s.IsEncrypted(),
		"entries", len(s.data))
	return nil
}

// ChangePassword re-encrypts the store under newPassword with a fresh salt,
// or rewrites it as plaintext when newPassword is empty. The new envelope
// is written before any in-memory state changes, so a failed write leaves
// the session as it was.
func (s *Store) ChangePassword(newPassword []byte) error {
	if err := s.writable(); err != nil {
		return err
	}

	var (
		kdf *crypto.KDF
		key []byte
		err error
	)
	if len(newPassword) > 0 {
		kdf, key, err = s.deriveFresh(newPassword)
		if err != nil {
			return err
		}
	}
	c := s.cipherOrDefault()

	envelope, err := sealWith(s.data, kdf, key, c)
	if err != nil {
		crypto.ClearBytes(key)
		return err
	}
	if err := s.backend.Write(envelope); err != nil {
		crypto.ClearBytes(key)
		return fmt.Errorf("failed to write %s: %w", s.backend.Location(), err)
	}

	s.clearKey()
	s.encrypted = kdf != nil
	if kdf != nil {
		s.password = bytes.Clone(newPassword)
		s.kdf = kdf
		s.key = key
		s.cipher = c
	}
	s.digest = codec.Digest(s.data)

	s.logger.Debug("password changed",
		"location", s.backend.Location(),
		"encrypted", s.IsEncrypted())
	return nil
}

// Close releases the write lock and wipes key material. It is safe to call
// more than once.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.clearKey()

	if err := s.lock.Release(); err != nil {
		s.logger.Warn("failed to release lock", "location", s.backend.Location(), "error", err)
		return err
	}
	s.logger.Debug("store closed", "location", s.backend.Location())
	return nil
}

func (s *Store) clearKey() {
	crypto.ClearBytes(s.key)
	crypto.ClearBytes(s.password)
	s.key = nil
	s.password = nil
	s.kdf = nil
}

// IsStorageFile reports whether backend holds a store, plaintext or
// encrypted. It never decrypts.
func IsStorageFile(backend storage.Backend) bool {
	return sniff(backend) != format.KindUnknown
}

// IsEncryptedStorageFile reports whether backend holds an encrypted store.
func IsEncryptedStorageFile(backend storage.Backend) bool {
	return sniff(backend) == format.KindEncrypted
}

func sniff(backend storage.Backend) format.Kind {
	data, err := backend.Read()
	if err != nil {
		return format.KindUnknown
	}
	return format.Sniff(data)
}
