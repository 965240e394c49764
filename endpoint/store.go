package endpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// DefaultFileName is the address file kept in the user's home directory.
const DefaultFileName = ".vision_address"

// Store persists the last endpoint the operator chose as a single "host:port" line.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns ~/.vision_address, falling back to the working directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

func (s *Store) Path() string { return s.path }

// Load reads the stored endpoint. A missing file yields the zero (inert)
// endpoint and no error.
func (s *Store) Load() (Endpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Endpoint{}, nil
		}
		return Endpoint{}, fmt.Errorf("endpoint: read %s: %w", s.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Endpoint{}, nil
	}
	return Parse(text)
}

// Save replaces the stored endpoint atomically.
func (s *Store) Save(e Endpoint) error {
	if e.Inert() {
		return fmt.Errorf("%w: refusing to store inert endpoint", ErrInvalidEndpoint)
	}
	if err := renameio.WriteFile(s.path, []byte(e.Address()+"\n"), 0o600); err != nil {
		return fmt.Errorf("endpoint: write %s: %w", s.path, err)
	}
	return nil
}
