package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Handle is a local, readable copy of a stored artifact.
type Handle struct {
	Key  string
	Path string
}

// Scratch is a temporary directory that owns every file fetched or written
// through it. Close removes the directory; it is safe to call more than once.
type Scratch struct {
	mu     sync.Mutex
	dir    string
	seq    int
	closed bool
}

// NewScratch creates a scratch directory under root (os.TempDir when empty).
func NewScratch(root, pattern string) (*Scratch, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "scratch-*"
	}
	dir, err := os.MkdirTemp(strings.TrimSpace(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

func (s *Scratch) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Path reserves a fresh path for name inside its own subdirectory so two
// artifacts with the same base name never collide.
func (s *Scratch) Path(name string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("scratch is nil")
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("scratch: invalid name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("scratch: closed")
	}
	s.seq++
	sub := filepath.Join(s.dir, fmt.Sprintf("%03d", s.seq))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(sub, name), nil
}

// Write stores content under a fresh scratch path and returns it.
func (s *Scratch) Write(name string, content []byte) (string, error) {
	p, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// Fetch copies the object at key into the scratch directory.
func (s *Scratch) Fetch(ctx context.Context, store Store, key string) (Handle, []byte, error) {
	if store == nil {
		return Handle{}, nil, fmt.Errorf("store is nil")
	}
	raw, err := store.Get(ctx, key)
	if err != nil {
		return Handle{}, nil, err
	}
	p, err := s.Write(Base(key), raw)
	if err != nil {
		return Handle{}, nil, err
	}
	return Handle{Key: key, Path: p}, raw, nil
}

func (s *Scratch) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return os.RemoveAll(s.dir)
}
