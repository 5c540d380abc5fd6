package secret

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultKeychainService names the Keychain items holding connection
// passwords.
const DefaultKeychainService = "backoffice-db"

// keychainItemNotFound is the exit status of `security` for a missing item.
const keychainItemNotFound = 44

// KeychainStore keeps secrets as generic passwords in the macOS Keychain,
// driving the `security` tool. Keys become the item account.
type KeychainStore struct {
	service string
	timeout time.Duration
}

// NewKeychainStore creates a store for service; "" means
// DefaultKeychainService.
func NewKeychainStore(service string) *KeychainStore {
	if service == "" {
		service = DefaultKeychainService
	}
	return &KeychainStore{service: service, timeout: 10 * time.Second}
}

// Set stores value under key, replacing any previous value.
func (k *KeychainStore) Set(key string, value []byte) error {
	_, err := k.security("add-generic-password", "-a", key, "-s", k.service, "-w", string(value), "-U")
	if err != nil {
		return fmt.Errorf("keychain set %q: %w", key, err)
	}
	return nil
}

// Get returns nil and no error when key has no item.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.security("find-generic-password", "-a", key, "-s", k.service, "-w")
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == keychainItemNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get %q: %w", key, err)
	}
	return []byte(strings.TrimSuffix(string(out), "\n")), nil
}

// Delete removes key. A missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	_, err := k.security("delete-generic-password", "-a", key, "-s", k.service)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == keychainItemNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}

func (k *KeychainStore) security(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, "security", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w", msg, err)
		}
		return nil, err
	}
	return out, nil
}
