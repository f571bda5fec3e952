package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

var (
	// ErrRegistryLoad wraps any manifest problem found at startup.
	// A partially loaded registry must never serve requests.
	ErrRegistryLoad = errors.New("skill registry load failed")
	// ErrSkillNotFound indicates a lookup for an unregistered skill id.
	ErrSkillNotFound = errors.New("skill not found")
)

// Registry is the immutable skill catalog. It is built once by Load and
// shared by reference; lookups need no locking.
type Registry struct {
	dir    string
	skills map[string]*SkillDescriptor
}

// Load scans dir for skill directories (one level deep, each containing
// skill.yaml) and builds the registry. It fails fast on the first
// malformed manifest, duplicate skill id, or missing script file.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read skills directory %s: %v", ErrRegistryLoad, dir, err)
	}

	reg := &Registry{
		dir:    dir,
		skills: make(map[string]*SkillDescriptor),
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(skillDir, ManifestFilename)); err != nil {
			// Directories without a manifest are not skills.
			continue
		}

		desc, err := loadManifest(skillDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegistryLoad, err)
		}
		if _, dup := reg.skills[desc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate skill id %q", ErrRegistryLoad, desc.ID)
		}
		reg.skills[desc.ID] = desc
	}

	if len(reg.skills) == 0 {
		return nil, fmt.Errorf("%w: no skills found in %s", ErrRegistryLoad, dir)
	}

	return reg, nil
}

// Lookup returns the descriptor for the given skill id.
func (r *Registry) Lookup(id string) (*SkillDescriptor, error) {
	desc, ok := r.skills[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	return desc, nil
}

// All returns every descriptor, sorted by skill id.
func (r *Registry) All() []*SkillDescriptor {
	out := make([]*SkillDescriptor, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	return len(r.skills)
}

// Dir returns the directory the registry was loaded from.
func (r *Registry) Dir() string {
	return r.dir
}
