package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize = 16 // Salt size in bytes
	KeySize  = 32 // AES-256 and XChaCha20 key size
	TagSize  = 16 // Poly1305 and GCM tag size

	DefaultArgonTime    = 3         // Argon2id passes
	DefaultArgonMemory  = 64 * 1024 // Argon2id memory in KiB
	DefaultArgonThreads = 4
	DefaultPBKDF2Iters  = 210000 // OWASP minimum for PBKDF2-HMAC-SHA256

	// Upper bounds accepted from an envelope header. The key is derived
	// before the ciphertext is authenticated, so these bound the work a
	// crafted file can cause.
	MaxArgonTime   = 16
	MaxArgonMemory = 1024 * 1024 // 1 GiB
	MaxPBKDF2Iters = 10_000_000
	MinSaltSize    = 8
	MaxSaltSize    = 64
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrUnsupportedKDF    = errors.New("unsupported key derivation function")
	ErrUnsupportedCipher = errors.New("unsupported cipher")
	ErrInvalidKDFParams  = errors.New("invalid key derivation parameters")
)

// KDFAlgorithm identifies a password-based key derivation function.
// The numeric value is what gets written to disk.
type KDFAlgorithm uint8

const (
	KDFArgon2id KDFAlgorithm = 1
	KDFPBKDF2   KDFAlgorithm = 2
)

func (a KDFAlgorithm) String() string {
	switch a {
	case KDFArgon2id:
		return "argon2id"
	case KDFPBKDF2:
		return "pbkdf2-sha256"
	default:
		return fmt.Sprintf("kdf(%d)", uint8(a))
	}
}

// ParseKDFAlgorithm maps a configuration name to a KDFAlgorithm.
func ParseKDFAlgorithm(name string) (KDFAlgorithm, error) {
	switch name {
	case "", "argon2id":
		return KDFArgon2id, nil
	case "pbkdf2", "pbkdf2-sha256":
		return KDFPBKDF2, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedKDF, name)
	}
}

// KDFParams are the cost parameters of a KDF, without the salt.
// For PBKDF2 only Iterations is meaningful.
type KDFParams struct {
	Algorithm  KDFAlgorithm
	Iterations uint32 // Argon2id passes or PBKDF2 rounds
	Memory     uint32 // KiB, Argon2id only
	Threads    uint8  // Argon2id only
}

// DefaultKDFParams returns the recommended parameters for alg.
func DefaultKDFParams(alg KDFAlgorithm) KDFParams {
	if alg == KDFPBKDF2 {
		return KDFParams{Algorithm: KDFPBKDF2, Iterations: DefaultPBKDF2Iters}
	}
	return KDFParams{
		Algorithm:  KDFArgon2id,
		Iterations: DefaultArgonTime,
		Memory:     DefaultArgonMemory,
		Threads:    DefaultArgonThreads,
	}
}

// Validate checks the parameters are supported and within sane bounds.
func (p KDFParams) Validate() error {
	switch p.Algorithm {
	case KDFArgon2id:
		if p.Iterations == 0 || p.Iterations > MaxArgonTime {
			return fmt.Errorf("%w: argon2id time %d", ErrInvalidKDFParams, p.Iterations)
		}
		if p.Threads == 0 {
			return fmt.Errorf("%w: argon2id threads %d", ErrInvalidKDFParams, p.Threads)
		}
		if p.Memory < 8*uint32(p.Threads) || p.Memory > MaxArgonMemory {
			return fmt.Errorf("%w: argon2id memory %d KiB", ErrInvalidKDFParams, p.Memory)
		}
	case KDFPBKDF2:
		if p.Iterations == 0 || p.Iterations > MaxPBKDF2Iters {
			return fmt.Errorf("%w: pbkdf2 iterations %d", ErrInvalidKDFParams, p.Iterations)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKDF, p.Algorithm)
	}
	return nil
}

// KDF handles key derivation from passwords
type KDF struct {
	KDFParams
	Salt []byte
}

// NewKDF creates a new KDF with a random salt
func NewKDF(params KDFParams) (*KDF, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return &KDF{
		KDFParams: params,
		Salt:      salt,
	}, nil
}

// DeriveKey derives an encryption key from a password
func (k *KDF) DeriveKey(password []byte) ([]byte, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	if len(k.Salt) < MinSaltSize || len(k.Salt) > MaxSaltSize {
		return nil, fmt.Errorf("%w: salt length %d", ErrInvalidKDFParams, len(k.Salt))
	}

	switch k.Algorithm {
	case KDFPBKDF2:
		return pbkdf2.Key(password, k.Salt, int(k.Iterations), KeySize, sha256.New), nil
	default:
		return argon2.IDKey(password, k.Salt, k.Iterations, k.Memory, k.Threads, KeySize), nil
	}
}

// Cipher identifies an AEAD construction. The numeric value is what gets
// written to disk.
type Cipher uint8

const (
	CipherAESGCM            Cipher = 1
	CipherXChaCha20Poly1305 Cipher = 2
)

func (c Cipher) String() string {
	switch c {
	case CipherAESGCM:
		return "aes-256-gcm"
	case CipherXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return fmt.Sprintf("cipher(%d)", uint8(c))
	}
}

// NonceSize returns the nonce length for c, or 0 if c is unknown.
func (c Cipher) NonceSize() int {
	switch c {
	case CipherAESGCM:
		return 12
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX
	default:
		return 0
	}
}

// ParseCipher maps a configuration name to a Cipher.
func ParseCipher(name string) (Cipher, error) {
	switch name {
	case "", "aes-256-gcm", "aes-gcm":
		return CipherAESGCM, nil
	case "xchacha20-poly1305", "xchacha20":
		return CipherXChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCipher, name)
	}
}

// Encryptor provides authenticated encryption
type Encryptor struct {
	key    []byte
	cipher Cipher
}

// NewEncryptor creates a new encryptor with the given key
func NewEncryptor(key []byte, c Cipher) *Encryptor {
	return &Encryptor{
		key:    key,
		cipher: c,
	}
}

// Cipher returns the AEAD construction used by e.
func (e *Encryptor) Cipher() Cipher {
	return e.cipher
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	switch e.cipher {
	case CipherAESGCM:
		block, err := aes.NewCipher(e.key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case CipherXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(e.key)
		if err != nil {
			return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCipher, e.cipher)
	}
}

// Encrypt seals plaintext and returns nonce || ciphertext || tag.
// additionalData is authenticated but not encrypted.
func (e *Encryptor) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := e.aead()
	if err != nil {
		return nil, err
	}

	// Generate random nonce
	nonce, err := GenerateRandom(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext and tag to the nonce
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt opens a value produced by Encrypt
func (e *Encryptor) Decrypt(sealed, additionalData []byte) ([]byte, error) {
	aead, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(sealed) < nonceSize+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], additionalData)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// Destroy clears the encryptor's key from memory
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
