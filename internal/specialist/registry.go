package specialist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/logging"
)

// Load parses every *.md unit directly under dir in fsys.
//
// Units that fail to parse are left out of the map and reported in the
// returned error, joined; the map still holds every unit that loaded. A nil
// map means dir itself could not be read.
func Load(fsys fs.FS, dir string) (map[string]Definition, error) {
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading specialist dir %q: %w", dir, err)
	}

	// ReadDir sorts by name, so duplicate resolution is deterministic.
	defs := make(map[string]Definition)
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".md") {
			continue
		}
		file := path.Join(dir, e.Name())

		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, file, err))
			continue
		}
		def, err := Parse(file, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := defs[def.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %s: duplicate name %q", ErrInvalidDefinition, file, def.Name))
			continue
		}
		defs[def.Name] = def
	}

	return defs, errors.Join(errs...)
}

// CatalogEntry is the name and one-line description of a specialist.
type CatalogEntry struct {
	Name        string
	Description string
}

// Registry holds the loaded definitions. Reload swaps the whole set at once.
type Registry struct {
	fsys     fs.FS
	dir      string
	watchDir string
	logger   *logging.Logger

	mu         sync.RWMutex
	defs       map[string]Definition
	generation uint64
}

// NewRegistry loads definitions from dir within fsys.
func NewRegistry(ctx context.Context, fsys fs.FS, dir string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		fsys:   fsys,
		dir:    dir,
		logger: logger.Named("specialist"),
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// NewDirRegistry loads definitions from a directory on disk. The result can
// be watched for changes. A missing directory yields an empty registry.
func NewDirRegistry(ctx context.Context, dir string, logger *logging.Logger) (*Registry, error) {
	r, err := NewRegistry(ctx, os.DirFS(dir), ".", logger)
	if err != nil {
		return nil, err
	}
	r.watchDir = dir
	return r, nil
}

// FromDefinitions builds a fixed registry, mostly for tests and embedding.
func FromDefinitions(defs ...Definition) *Registry {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &Registry{
		logger:     logging.NewNop(),
		defs:       m,
		generation: 1,
	}
}

// Reload re-reads the source and replaces the definitions. Broken units are
// logged and skipped.
func (r *Registry) Reload(ctx context.Context) error {
	if r.fsys == nil {
		return nil
	}

	defs, err := Load(r.fsys, r.dir)
	if defs == nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn(ctx, "specialist directory missing", zap.String("dir", r.dir))
			defs = map[string]Definition{}
		} else {
			return err
		}
	} else if err != nil {
		for _, unitErr := range unwrapJoined(err) {
			r.logger.Warn(ctx, "skipping specialist definition", zap.Error(unitErr))
		}
	}

	r.mu.Lock()
	r.defs = defs
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	r.logger.Debug(ctx, "specialists loaded",
		zap.Int("count", len(defs)),
		zap.Uint64("generation", gen),
	)
	return nil
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// Get returns the named definition.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return def, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Catalog returns name and description for every specialist, sorted by name.
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, CatalogEntry{Name: d.Name, Description: d.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered specialists.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Generation increases on every reload. Caches keyed on the registry
// contents use it to invalidate.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
