package registry

import (
	"fmt"
	"strings"

	"github.com/spachava753/templatesync/internal/models"
)

// Registry is the validated, read-only set of tracked repositories.
type Registry struct {
	source   string
	entries  []models.RepositoryEntry
	index    map[string]int
	settings models.Settings
}

// New builds a Registry from already-parsed entries. Names must be unique.
func New(entries []models.RepositoryEntry, settings models.Settings) (*Registry, error) {
	r := &Registry{
		entries:  make([]models.RepositoryEntry, 0, len(entries)),
		index:    make(map[string]int, len(entries)),
		settings: settings,
	}
	for _, e := range entries {
		if _, dup := r.index[e.Name]; dup {
			return nil, fmt.Errorf("duplicate repository %q", e.Name)
		}
		r.index[e.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Source returns where the registry was loaded from.
func (r *Registry) Source() string {
	return r.source
}

// Settings returns the registry-wide settings with defaults applied.
func (r *Registry) Settings() models.Settings {
	return r.settings
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// List returns the entries in registry order. The slice is a copy.
func (r *Registry) List() []models.RepositoryEntry {
	out := make([]models.RepositoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get returns the entry with the given name.
func (r *Registry) Get(name string) (models.RepositoryEntry, bool) {
	i, ok := r.index[name]
	if !ok {
		return models.RepositoryEntry{}, false
	}
	return r.entries[i], true
}

// Filter returns a new Registry holding the entries for which keep is true,
// in the same order.
func (r *Registry) Filter(keep func(models.RepositoryEntry) bool) *Registry {
	out := &Registry{
		source:   r.source,
		index:    make(map[string]int),
		settings: r.settings,
	}
	for _, e := range r.entries {
		if keep(e) {
			out.index[e.Name] = len(out.entries)
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// Templates returns the distinct template URLs in registry order.
func (r *Registry) Templates() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range r.entries {
		if !seen[e.TemplateRef] {
			seen[e.TemplateRef] = true
			out = append(out, e.TemplateRef)
		}
	}
	return out
}

// HasHostSlug reports whether any entry tracks slug (case-insensitive, as on GitHub).
func (r *Registry) HasHostSlug(slug string) bool {
	for _, e := range r.entries {
		if strings.EqualFold(e.HostSlug, slug) {
			return true
		}
	}
	return false
}

// AutoUpdate selects entries with auto_update enabled.
func AutoUpdate(e models.RepositoryEntry) bool {
	return e.AutoUpdate
}

// Named selects entries whose name is in names.
func Named(names ...string) func(models.RepositoryEntry) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(e models.RepositoryEntry) bool {
		return set[e.Name]
	}
}
