package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"sync"
)

var errDuplicateVersion = errors.New("duplicate migration version")

// Source yields the full ordered migration set.
type Source interface {
	List() ([]Migration, error)
}

// Registry collects migrations from files and Go registrations. A registry
// that has seen a malformed definition refuses to list.
type Registry struct {
	mu         sync.Mutex
	migrations []Migration
	errs       []error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds Go-defined migrations. Identifier is required; Version is
// derived from it. Problems are reported by List.
func (r *Registry) Register(migrations ...Migration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range migrations {
		if m.Source == "" {
			m.Source = "go:" + m.Identifier
		}
		r.migrations = append(r.migrations, m)
	}
}

// LoadFS adds every migration file found in dir. The returned error lists
// all naming and content problems found; the same problems make List fail.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	if dir == "" {
		dir = "."
	}
	files, errs := scanDir(fsys, dir)
	migrations, assembleErrs := assemble(files)
	errs = append(errs, assembleErrs...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations = append(r.migrations, migrations...)
	r.errs = append(r.errs, errs...)
	return errors.Join(errs...)
}

// List returns all migrations ordered by ascending numeric version. It fails
// with a DiscoveryError when versions are malformed or collide.
func (r *Registry) List() ([]Migration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := append([]error(nil), r.errs...)
	seen := make(map[int64]Migration, len(r.migrations))
	out := make([]Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		version, err := parseVersion(m.Identifier)
		if err != nil {
			errs = append(errs, &DiscoveryError{Source: m.Source, Identifier: m.Identifier, Err: err})
			continue
		}
		if m.Up == nil {
			errs = append(errs, discoveryErrorf(m.Source, m.Identifier, "migration has no up action"))
			continue
		}
		if prev, ok := seen[version]; ok {
			errs = append(errs, discoveryErrorf(m.Source, m.Identifier,
				"%w: version %d also defined by %s (%s)", errDuplicateVersion, version, prev.Identifier, prev.Source))
			continue
		}
		m.Version = version
		seen[version] = m
		out = append(out, m)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// parseVersion accepts only plain decimal digits so that suffixed names such
// as "003b" cannot slip between numeric versions.
func parseVersion(identifier string) (int64, error) {
	if !isDigits(identifier) {
		return 0, fmt.Errorf("version %q is not a zero-padded number", identifier)
	}
	version, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", identifier, err)
	}
	return version, nil
}
