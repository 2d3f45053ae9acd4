package keyring

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const serviceName = "walletvault"

// ErrNotFound is returned when no password is stored for a store
var ErrNotFound = keyring.ErrNotFound

// StoreID derives the keyring account name for a store location. File
// paths are made absolute so the same store gets the same ID from any
// working directory; bolt locations keep their "#name" suffix.
func StoreID(location string) string {
	if abs, err := filepath.Abs(location); err == nil {
		location = abs
	}
	sum := sha256.Sum256([]byte(location))
	return hex.EncodeToString(sum[:16])
}

// SavePassword stores a password in the OS keyring
func SavePassword(storeID string, password []byte) error {
	return keyring.Set(serviceName, storeID, string(password))
}

// GetPassword retrieves a password from the OS keyring
func GetPassword(storeID string) ([]byte, error) {
	password, err := keyring.Get(serviceName, storeID)
	if err != nil {
		return nil, err
	}
	return []byte(password), nil
}

// DeletePassword removes a password from the OS keyring. Deleting a
// missing entry is not an error.
func DeletePassword(storeID string) error {
	err := keyring.Delete(serviceName, storeID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// HasPassword checks if a password is stored in the keyring
func HasPassword(storeID string) bool {
	_, err := keyring.Get(serviceName, storeID)
	return err == nil
}
