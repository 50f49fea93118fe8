package shader

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
)

// ErrUnknownShader is returned when a loader has no source for a path.
var ErrUnknownShader = errors.New("shader: unknown shader path")

// Loader resolves a shader path to compiled bytecode plus reflection.
//
// Implementations must be safe for concurrent use; pipeline caches load
// lazily from whatever goroutine first needs a pipeline.
type Loader interface {
	Load(path string, stage Stage) (*Source, error)
}

// sourceHash hashes WGSL text for cache keys.
func sourceHash(src string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(src))
	return h.Sum64()
}

func compileSource(path, wgsl string, stage Stage, groups []BindGroup) (*Source, error) {
	words, err := CompileWGSL(wgsl)
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", path, err)
	}
	return &Source{
		SPIRV:      words,
		EntryPoint: stage.DefaultEntryPoint(),
		Stage:      stage,
		Groups:     groups,
		Hash:       sourceHash(wgsl),
	}, nil
}

// DirLoader loads WGSL files from a directory tree. Reflection tables are
// registered per path before the first load.
type DirLoader struct {
	root string

	mu      sync.RWMutex
	reflect map[string][]BindGroup
}

// NewDirLoader returns a loader rooted at the given directory.
func NewDirLoader(root string) *DirLoader {
	return &DirLoader{
		root:    root,
		reflect: make(map[string][]BindGroup),
	}
}

// SetReflection registers the bind group table for a shader path.
func (l *DirLoader) SetReflection(path string, groups []BindGroup) {
	l.mu.Lock()
	l.reflect[path] = groups
	l.mu.Unlock()
}

// Load reads, compiles, and tags the WGSL file at path relative to the
// loader root.
func (l *DirLoader) Load(path string, stage Stage) (*Source, error) {
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", path, err)
	}

	l.mu.RLock()
	groups := l.reflect[path]
	l.mu.RUnlock()

	return compileSource(path, string(data), stage, groups)
}

// StaticLoader serves shaders registered in memory. Useful for embedded
// sources and tests.
type StaticLoader struct {
	mu      sync.RWMutex
	sources map[string]staticEntry
}

type staticEntry struct {
	wgsl   string
	groups []BindGroup
}

// NewStaticLoader returns an empty in-memory loader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{sources: make(map[string]staticEntry)}
}

// Register adds a WGSL source and its reflection under a path.
func (l *StaticLoader) Register(path, wgsl string, groups []BindGroup) {
	l.mu.Lock()
	l.sources[path] = staticEntry{wgsl: wgsl, groups: groups}
	l.mu.Unlock()
}

// Load compiles the registered source for path.
func (l *StaticLoader) Load(path string, stage Stage) (*Source, error) {
	l.mu.RLock()
	entry, ok := l.sources[path]
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShader, path)
	}
	return compileSource(path, entry.wgsl, stage, entry.groups)
}
