package config

import (
	"errors"
	"io/fs"
	"sync"

	"github.com/matheus3301/wppdesk/internal/gateway"
)

// File is the settings collaborator: it reads and persists the gateway
// credentials of one config.toml, leaving the other sections untouched.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a File backed by path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Credentials returns the saved credentials; a missing file yields empty ones.
func (f *File) Credentials() (gateway.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, err := f.load()
	if err != nil {
		return gateway.Credentials{}, err
	}
	return cfg.Gateway.Credentials(), nil
}

// SaveCredentials persists creds.
func (f *File) SaveCredentials(creds gateway.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, err := f.load()
	if err != nil {
		return err
	}
	cfg.Gateway.SetCredentials(creds)
	return Save(f.path, cfg)
}

func (f *File) load() (*Config, error) {
	cfg, err := Load(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
