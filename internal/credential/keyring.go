// Package credential stores the mailbox password in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "inbox-sweep"

// PasswordEnv overrides the keyring when set.
const PasswordEnv = "SWEEP_IMAP_PASSWORD"

// ErrNoPassword is returned when neither the environment nor the keyring
// holds a password for the account.
var ErrNoPassword = errors.New("no password stored")

// PasswordKey returns the keyring key of an account's password.
func PasswordKey(username string) string {
	return "imap:" + strings.ToLower(strings.TrimSpace(username))
}

// Password returns the account password from PasswordEnv or the keyring.
func Password(username string) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	pw, err := Get(PasswordKey(username))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w for %s; set %s or run with -save-password", ErrNoPassword, username, PasswordEnv)
	}
	if err != nil {
		return "", err
	}
	return pw, nil
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/inbox-sweep/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("inbox-sweep-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
