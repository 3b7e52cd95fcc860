package root

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Registry resolves watch root paths to their Root state, creating new
// roots on demand for the watch command and refusing resolution for
// paths no session has ever watched (spec.md §4.1: "resolve root" /
// ErrUnresolvedRoot).
type Registry struct {
	mu    sync.Mutex
	roots map[string]*Root
}

// NewRegistry returns an empty root registry.
func NewRegistry() *Registry {
	return &Registry{roots: make(map[string]*Root)}
}

// WatchOrCreate returns the Root for path, creating and registering
// one if this is the first time path has been watched. path is made
// absolute and cleaned (symlinks are not resolved), so relative and
// absolute spellings of the same path share one Root.
func (reg *Registry) WatchOrCreate(path string) (*Root, bool, error) {
	clean, err := canonicalize(path)
	if err != nil {
		return nil, false, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.roots[clean]; ok {
		return r, false, nil
	}
	r := New(clean)
	reg.roots[clean] = r
	return r, true, nil
}

// Resolve looks up an already-watched root without creating one,
// returning ok=false if path has never been watched. Sessions in
// client mode resolve every root argument this way, so they never
// implicitly watch a new path.
func (reg *Registry) Resolve(path string) (*Root, bool) {
	clean, err := canonicalize(path)
	if err != nil {
		return nil, false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.roots[clean]
	return r, ok
}

// List returns the paths of every currently-watched root, for
// watch-list.
func (reg *Registry) List() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.roots))
	for p := range reg.roots {
		out = append(out, p)
	}
	return out
}

// Remove stops tracking path (watch-del), returning whether it had
// been watched.
func (reg *Registry) Remove(path string) bool {
	clean, err := canonicalize(path)
	if err != nil {
		return false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.roots[clean]; !ok {
		return false
	}
	delete(reg.roots, clean)
	return true
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
