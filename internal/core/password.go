package core

import (
	"fmt"
	"os"

	"github.com/illarion/walletvault/internal/crypto"
	"golang.org/x/term"
)

// Environment variables consulted before prompting
const (
	PasswordEnv    = "WALLETVAULT_PASSWORD"
	NewPasswordEnv = "WALLETVAULT_NEW_PASSWORD" // passwd only
)

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, fmt.Errorf("passwords do not match")
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// GetPasswordFromEnv reads the password from WALLETVAULT_PASSWORD, or
// returns nil when it is unset or empty.
func GetPasswordFromEnv() []byte {
	return passwordFromEnv(PasswordEnv)
}

// GetNewPasswordFromEnv reads the replacement password for passwd
func GetNewPasswordFromEnv() []byte {
	return passwordFromEnv(NewPasswordEnv)
}

func passwordFromEnv(name string) []byte {
	password := os.Getenv(name)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// IsTerminal reports whether stdin is an interactive terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
