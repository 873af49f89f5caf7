// Package filestore keeps the executed set in a JSON or YAML file holding an
// array of names.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/example/migration-orchestrator/internal/migration"
	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Store implements migration.Storage on a single file. A missing file reads as
// an empty set. Logging a recorded name again leaves the file unchanged.
//
// Store serialises access within a process only; two processes writing the
// same file can lose updates.
type Store struct {
	mu     sync.Mutex
	path   string
	format Format
}

var _ migration.Storage = (*Store)(nil)

// New returns a Store for path. The format follows the extension: .yaml and
// .yml select YAML, anything else JSON.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("filestore: path is empty")
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return &Store{path: path, format: format}, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// LogMigration appends name if absent.
func (s *Store) LogMigration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.read()
	if err != nil {
		return err
	}
	for _, existing := range names {
		if existing == name {
			return nil
		}
	}
	return s.write(append(names, name))
}

// UnlogMigration removes every occurrence of name.
func (s *Store) UnlogMigration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.read()
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, existing := range names {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(names) {
		return nil
	}
	return s.write(kept)
}

// Executed reads the file and returns the names in stored order.
func (s *Store) Executed(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []string{}, nil
	}

	names := []string{}
	switch s.format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &names)
	default:
		err = json.Unmarshal(data, &names)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return names, nil
}

func (s *Store) write(names []string) error {
	if names == nil {
		names = []string{}
	}

	var (
		data []byte
		err  error
	)
	switch s.format {
	case FormatYAML:
		data, err = yaml.Marshal(names)
	default:
		data, err = json.MarshalIndent(names, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
