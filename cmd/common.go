package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/walletvault/internal/config"
	"github.com/illarion/walletvault/internal/core"
	"github.com/illarion/walletvault/internal/crypto"
	"github.com/illarion/walletvault/internal/keyring"
	"github.com/illarion/walletvault/internal/storage"
)

// GetPassword retrieves password from environment or prompts user.
// The caller is responsible for calling crypto.ClearBytes on the returned password
func GetPassword(prompt string) ([]byte, error) {
	password := core.GetPasswordFromEnv()
	if password != nil {
		return password, nil
	}

	if !core.IsTerminal() {
		return nil, core.ErrPasswordRequired
	}
	return core.ReadPassword(prompt)
}

// GetPasswordForInit retrieves a new password.
// Checks environment variable first, then prompts with confirmation
func GetPasswordForInit(prompt string) ([]byte, error) {
	password := core.GetPasswordFromEnv()
	if password != nil {
		return password, nil
	}

	if !core.IsTerminal() {
		return nil, core.ErrPasswordRequired
	}
	return core.ReadPasswordConfirm(prompt)
}

// GetPasswordWithRetry runs open with a password from the environment, the
// keyring or a prompt, in that order. A keyring password that no longer
// matches is reported and the user is prompted instead.
func GetPasswordWithRetry[T any](prompt, location string, open func([]byte) (T, error)) (T, error) {
	var zero T

	if password := core.GetPasswordFromEnv(); password != nil {
		defer crypto.ClearBytes(password)
		return open(password)
	}

	storeID := keyring.StoreID(location)
	if password, err := keyring.GetPassword(storeID); err == nil {
		result, err := open(password)
		crypto.ClearBytes(password)
		if !errors.Is(err, core.ErrWrongPassword) {
			return result, err
		}
		fmt.Fprintln(os.Stderr, "warning: password in keyring is out of date")
	}

	if !core.IsTerminal() {
		return zero, core.ErrPasswordRequired
	}
	password, err := core.ReadPassword(prompt)
	if err != nil {
		return zero, err
	}
	defer crypto.ClearBytes(password)
	return open(password)
}

var (
	errKeyNotFound = errors.New("key not found")
	errNotBolt     = errors.New("command needs a bbolt database (--bolt)")
)

// HandleError prints err in a friendly form and exits
func HandleError(err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Run 'walletvault init' first\n")
	case errors.Is(err, core.ErrAlreadyExists):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Use 'walletvault status' to see current state\n")
	case errors.Is(err, core.ErrLocked):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Another walletvault session is writing to this store; use --read-only to read it\n")
	case errors.Is(err, core.ErrNotAStore):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	case errors.Is(err, core.ErrPasswordRequired):
		fmt.Fprintf(os.Stderr, "Error: password required\n")
		fmt.Fprintf(os.Stderr, "Set %s or run from a terminal\n", core.PasswordEnv)
	case errors.Is(err, core.ErrWrongPassword):
		fmt.Fprintf(os.Stderr, "Error: wrong password\n")
	case errors.Is(err, core.ErrReadOnly):
		fmt.Fprintf(os.Stderr, "Error: store opened with --read-only\n")
	case errors.Is(err, storage.ErrStoresLocked):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Close other walletvault sessions on this database and retry\n")
	case errors.Is(err, config.ErrInvalid):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Check %s\n", config.DefaultPath())
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
