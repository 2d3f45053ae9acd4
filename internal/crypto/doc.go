// Package crypto provides cryptographic operations for walletvault.
//
// Encryption is authenticated, with one of:
//   - AES-256-GCM, 12-byte random nonce (default)
//   - XChaCha20-Poly1305, 24-byte random nonce
//
// A fresh nonce is drawn for every Encrypt call. Sealed values are laid out
// as nonce || ciphertext || tag. Any tag mismatch, including the one caused
// by a wrong key, is reported as ErrAuthFailed.
//
// Key derivation uses one of:
//   - Argon2id, time=3, memory=64 MiB, threads=4 (default)
//   - PBKDF2-HMAC-SHA256, 210,000 iterations
//
// with a 16-byte random salt stored unencrypted next to the ciphertext.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
