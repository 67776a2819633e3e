// Package persona stores council persona definitions as one file per role.
//
// Files are JSON (<role>.json), which is what the store writes; YAML files
// (<role>.yaml or .yml) dropped into the directory by hand are read too.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/council/internal/model"
)

var (
	// ErrNotFound is returned when no persona exists for a role.
	ErrNotFound = errors.New("persona: not found")
	// ErrInvalid wraps validation failures of a persona payload.
	ErrInvalid = errors.New("persona: invalid")
)

// defaultCacheTTL bounds how long a directory scan is reused before files
// edited outside the store are picked up.
const defaultCacheTTL = 2 * time.Second

// FileStore is a directory-backed persona store. Safe for concurrent use.
type FileStore struct {
	dir    string
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	cache    map[string]model.Persona
	loadedAt time.Time

	writeMu sync.Mutex
	group   singleflight.Group
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("persona: create dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger, ttl: defaultCacheTTL}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

// Get returns the persona for role.
func (s *FileStore) Get(ctx context.Context, role string) (model.Persona, error) {
	if err := model.ValidateRole(role); err != nil {
		return model.Persona{}, fmt.Errorf("%w: %s: %v", ErrNotFound, role, err)
	}
	all, err := s.load(ctx)
	if err != nil {
		return model.Persona{}, err
	}
	p, ok := all[role]
	if !ok {
		return model.Persona{}, fmt.Errorf("%w: %s", ErrNotFound, role)
	}
	return clonePersona(p), nil
}

// List returns every persona ordered by role.
func (s *FileStore) List(ctx context.Context) ([]model.Persona, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Persona, 0, len(all))
	for _, p := range all {
		out = append(out, clonePersona(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

// Put creates or replaces a persona.
func (s *FileStore) Put(ctx context.Context, p model.Persona) (model.Persona, error) {
	if err := p.Validate(); err != nil {
		return model.Persona{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.write(p); err != nil {
		return model.Persona{}, err
	}
	s.invalidate()
	return clonePersona(p), nil
}

// Update replaces an existing persona. The role in the path wins over an
// empty role in the body; a conflicting body role is rejected.
func (s *FileStore) Update(ctx context.Context, role string, p model.Persona) (model.Persona, error) {
	if p.Role == "" {
		p.Role = role
	}
	if p.Role != role {
		return model.Persona{}, fmt.Errorf("%w: body role %q does not match %q", ErrInvalid, p.Role, role)
	}
	if _, err := s.Get(ctx, role); err != nil {
		return model.Persona{}, err
	}
	return s.Put(ctx, p)
}

// PutAll validates every persona before writing any of them.
func (s *FileStore) PutAll(ctx context.Context, ps []model.Persona) ([]model.Persona, error) {
	seen := make(map[string]bool, len(ps))
	for i, p := range ps {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: [%d]: %v", ErrInvalid, i, err)
		}
		if seen[p.Role] {
			return nil, fmt.Errorf("%w: [%d]: duplicate role %q", ErrInvalid, i, p.Role)
		}
		seen[p.Role] = true
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, p := range ps {
		if err := s.write(p); err != nil {
			s.invalidate()
			return nil, err
		}
	}
	s.invalidate()

	out := make([]model.Persona, len(ps))
	for i, p := range ps {
		out[i] = clonePersona(p)
	}
	return out, nil
}

// Seed writes each default persona whose role has no file yet and returns
// how many were written.
func (s *FileStore) Seed(ctx context.Context, defaults []model.Persona) (int, error) {
	existing, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	var missing []model.Persona
	for _, p := range defaults {
		if _, ok := existing[p.Role]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if _, err := s.PutAll(ctx, missing); err != nil {
		return 0, err
	}
	s.logger.Info("persona: seeded defaults", "count", len(missing), "dir", s.dir)
	return len(missing), nil
}

// load returns the cached persona map, rescanning the directory when the
// cache is stale. Concurrent rescans are collapsed into one.
func (s *FileStore) load(ctx context.Context) (map[string]model.Persona, error) {
	s.mu.RLock()
	if s.cache != nil && time.Since(s.loadedAt) < s.ttl {
		c := s.cache
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	result, err, _ := s.group.Do("scan", func() (any, error) {
		all, err := s.scan()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache = all
		s.loadedAt = time.Now()
		s.mu.Unlock()
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result.(map[string]model.Persona), nil
}

func (s *FileStore) scan() (map[string]model.Persona, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("persona: read dir %s: %w", s.dir, err)
	}

	all := make(map[string]model.Persona)
	fromJSON := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := readPersona(filepath.Join(s.dir, name), ext)
		if err != nil {
			s.logger.Warn("persona: skipping unreadable file", "file", name, "error", err)
			continue
		}
		if p.Role == "" {
			p.Role = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("persona: skipping invalid file", "file", name, "error", err)
			continue
		}
		// JSON is what the store writes, so it wins over a hand-written YAML twin.
		if fromJSON[p.Role] && ext != ".json" {
			continue
		}
		all[p.Role] = p
		fromJSON[p.Role] = ext == ".json"
	}
	return all, nil
}

func readPersona(path, ext string) (model.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Persona{}, err
	}
	var p model.Persona
	if ext == ".json" {
		err = json.Unmarshal(data, &p)
	} else {
		err = yaml.Unmarshal(data, &p)
	}
	return p, err
}

// write stores p as <role>.json via a temp file and rename so readers never
// see a partial file. Callers hold writeMu.
func (s *FileStore) write(p model.Persona) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: marshal %s: %w", p.Role, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+p.Role+"-*.tmp")
	if err != nil {
		return fmt.Errorf("persona: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("persona: write %s: %w", p.Role, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persona: close %s: %w", p.Role, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, p.Role+".json")); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("persona: rename %s: %w", p.Role, err)
	}
	return nil
}

func (s *FileStore) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func clonePersona(p model.Persona) model.Persona {
	p.Values = append([]string(nil), p.Values...)
	p.Guidelines = append([]string(nil), p.Guidelines...)
	return p
}
