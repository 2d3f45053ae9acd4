// Package config loads the walletvault configuration: built-in defaults,
// then the YAML config file, then WALLETVAULT_* environment variables.
//
// Example:
//
//	store: secrets/wallet.vault
//	kdf:
//	  algorithm: argon2id
//	  memory_kib: 131072
//	cipher: xchacha20-poly1305
//	log_level: info
//
// The same keys can be set from the environment, with dots replaced by
// underscores: WALLETVAULT_KDF_MEMORY_KIB=131072.
package config
