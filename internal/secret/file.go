package secret

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// FileStore implements SecretStore as a JSON file readable only by the
// current user. Values are base64 encoded.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at path. The file is created on the
// first Set.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Default returns the Keychain store on macOS and a FileStore under dataDir
// elsewhere. BACKOFFICE_SECRETS=file forces the file store.
func Default(dataDir string) (SecretStore, error) {
	if runtime.GOOS == "darwin" && os.Getenv("BACKOFFICE_SECRETS") != "file" {
		return NewKeychainStore(""), nil
	}
	return NewFileStore(filepath.Join(dataDir, "secrets.json"))
}

func (f *FileStore) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	all[key] = base64.StdEncoding.EncodeToString(value)
	return f.save(all)
}

// Get returns nil and no error for a missing key.
func (f *FileStore) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return nil, err
	}
	enc, ok := all[key]
	if !ok {
		return nil, nil
	}
	v, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decode secret %q: %w", key, err)
	}
	return v, nil
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return f.save(all)
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	all := map[string]string{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	return all, nil
}

func (f *FileStore) save(all map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	return os.Rename(tmp, f.path)
}
