package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const keychainService = "extractor"

// itemNotFound is the exit code of `security` for a missing item.
const itemNotFound = 44

// KeychainStore implements SecretStore using the macOS Keychain
// via the `security` CLI tool.
type KeychainStore struct {
	service string
}

// NewKeychainStore creates a KeychainStore under the default service name.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: keychainService}
}

// Set stores a secret in the macOS Keychain, replacing any previous value.
func (k *KeychainStore) Set(key string, value []byte) error {
	cmd := exec.Command("security", "add-generic-password",
		"-a", key,
		"-s", k.service,
		"-w", string(value),
		"-U", // update if exists
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain set %s: %s: %w", key, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Get retrieves a secret from the macOS Keychain.
// Returns nil and no error if the key doesn't exist.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	cmd := exec.Command("security", "find-generic-password",
		"-a", key,
		"-s", k.service,
		"-w", // output only the password
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == itemNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get %s: %w", key, err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes a secret from the macOS Keychain. Missing items are ignored.
func (k *KeychainStore) Delete(key string) error {
	cmd := exec.Command("security", "delete-generic-password",
		"-a", key,
		"-s", k.service,
	)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == itemNotFound {
			return nil
		}
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}

// Store kinds accepted by Open.
const (
	KindAuto     = "auto"
	KindKeychain = "keychain"
	KindFile     = "file"
	KindEnv      = "env"
)

// Open returns the store of the given kind. "auto" picks the Keychain on
// macOS and a secrets.json file under dataDir elsewhere.
func Open(kind, dataDir string) (SecretStore, error) {
	switch kind {
	case "", KindAuto:
		if runtime.GOOS == "darwin" {
			if _, err := exec.LookPath("security"); err == nil {
				return NewKeychainStore(), nil
			}
		}
		return NewFileStore(filepath.Join(dataDir, "secrets.json")), nil
	case KindKeychain:
		return NewKeychainStore(), nil
	case KindFile:
		return NewFileStore(filepath.Join(dataDir, "secrets.json")), nil
	case KindEnv:
		return NewEnvStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret store %q (want auto, keychain, file or env)", kind)
	}
}
