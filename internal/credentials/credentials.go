// Package credentials stores the Gemini API key.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/secmem"
)

var log = logging.L("credentials")

// EnvAPIKey overrides any stored key when set.
const EnvAPIKey = "GEMINI_API_KEY"

// ErrEmptyKey is returned when saving a blank key.
var ErrEmptyKey = errors.New("api key is empty")

// Provider supplies the API key. APIKey returns nil without error when no
// key is configured.
type Provider interface {
	APIKey(ctx context.Context) (*secmem.SecureString, error)
	SetAPIKey(ctx context.Context, key string) error
}

// Origin describes where a key came from.
type Origin string

const (
	OriginNone Origin = "none"
	OriginEnv  Origin = "environment"
	OriginFile Origin = "file"
)

type fileContents struct {
	APIKey    string    `yaml:"api_key"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// FileStore keeps the key in an owner-only YAML file. The environment
// variable takes precedence and is never written to disk.
type FileStore struct {
	path   string
	getenv func(string) string

	mu sync.Mutex
}

var _ Provider = (*FileStore)(nil)

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, getenv: os.Getenv}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// APIKey returns the environment key, else the stored key, else nil.
func (s *FileStore) APIKey(ctx context.Context) (*secmem.SecureString, error) {
	key, _, err := s.Lookup(ctx)
	return key, err
}

// Lookup is APIKey plus the origin of the returned key.
func (s *FileStore) Lookup(ctx context.Context) (*secmem.SecureString, Origin, error) {
	if err := ctx.Err(); err != nil {
		return nil, OriginNone, err
	}
	if v := strings.TrimSpace(s.getenv(EnvAPIKey)); v != "" {
		return secmem.NewSecureString(v), OriginEnv, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	contents, err := s.readLocked()
	if err != nil {
		return nil, OriginNone, err
	}
	if contents == nil || strings.TrimSpace(contents.APIKey) == "" {
		return nil, OriginNone, nil
	}
	return secmem.NewSecureString(contents.APIKey), OriginFile, nil
}

// SetAPIKey stores key, replacing any previous one.
func (s *FileStore) SetAPIKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	data, err := yaml.Marshal(fileContents{APIKey: key, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := writePrivate(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace credentials: %w", err)
	}
	log.Info("api key saved", "path", s.path)
	return nil
}

// writePrivate writes data to path with mode 0600, even when path already
// exists with a wider mode.
func writePrivate(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := f.Chmod(0600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Clear removes the stored key. A missing file is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	log.Info("api key cleared", "path", s.path)
	return nil
}

func (s *FileStore) readLocked() (*fileContents, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil && info.Mode().Perm()&0077 != 0 {
		log.Warn("credentials file is readable by other users", "path", s.path, "mode", info.Mode().Perm().String())
	}
	var contents fileContents
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", s.path, err)
	}
	return &contents, nil
}
