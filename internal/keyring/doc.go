// Package keyring caches store passwords in the operating system keyring
// (macOS Keychain, Secret Service on Linux, Windows Credential Manager).
// Entries are keyed by a hash of the store location.
package keyring
