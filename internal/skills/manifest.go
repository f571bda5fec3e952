// Package skills provides the static catalog of installed skills.
// A skill is a directory containing a skill.yaml manifest and the
// executable scripts it declares. The catalog is built once at startup
// and never mutated afterwards.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFilename is the per-skill manifest file name.
const ManifestFilename = "skill.yaml"

// Default resource limits applied when a manifest omits them.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024 * 1024
)

// manifest is the on-disk shape of skill.yaml.
type manifest struct {
	ID             string                    `yaml:"id"`
	Description    string                    `yaml:"description"`
	Timeout        duration                  `yaml:"timeout"`
	MaxOutputBytes int64                     `yaml:"max_output_bytes"`
	Env            []string                  `yaml:"env"`
	Scripts        map[string]manifestScript `yaml:"scripts"`
}

// duration accepts Go duration strings ("45s") and bare integer
// seconds in manifests.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", s, err)
		}
		*d = duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid timeout: %s", value.Value)
	}
	*d = duration(time.Duration(secs) * time.Second)
	return nil
}

type manifestScript struct {
	Path        string         `yaml:"path"`
	Description string         `yaml:"description"`
	Params      map[string]any `yaml:"params"`
}

// ScriptSpec describes one allowed entry point of a skill.
type ScriptSpec struct {
	// Name is the script's key in the manifest, used by the Tool Mapper.
	Name string
	// Path is the absolute path of the executable.
	Path string
	// Description is shown in skill listings.
	Description string
	// Params is the declared parameter schema fragment for the script.
	Params map[string]any
}

// SkillDescriptor is the immutable catalog entry for one skill.
type SkillDescriptor struct {
	ID             string
	Description    string
	Dir            string
	Timeout        time.Duration
	MaxOutputBytes int64
	// Env lists extra environment variable names the skill's scripts may
	// inherit, on top of the executor's base allow-list.
	Env     []string
	scripts map[string]ScriptSpec
}

// Script returns the spec for the named script, if declared.
func (d *SkillDescriptor) Script(name string) (ScriptSpec, bool) {
	s, ok := d.scripts[name]
	return s, ok
}

// Scripts returns all declared scripts.
func (d *SkillDescriptor) Scripts() []ScriptSpec {
	out := make([]ScriptSpec, 0, len(d.scripts))
	for _, s := range d.scripts {
		out = append(out, s)
	}
	return out
}

// loadManifest parses and validates a single skill.yaml.
func loadManifest(dir string) (*SkillDescriptor, error) {
	path := filepath.Join(dir, ManifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if m.ID == "" {
		return nil, fmt.Errorf("manifest %s: missing skill id", path)
	}
	if len(m.Scripts) == 0 {
		return nil, fmt.Errorf("manifest %s: skill %q declares no scripts", path, m.ID)
	}

	desc := &SkillDescriptor{
		ID:             m.ID,
		Description:    m.Description,
		Dir:            dir,
		Timeout:        time.Duration(m.Timeout),
		MaxOutputBytes: m.MaxOutputBytes,
		Env:            m.Env,
		scripts:        make(map[string]ScriptSpec, len(m.Scripts)),
	}
	if desc.Timeout <= 0 {
		desc.Timeout = DefaultTimeout
	}
	if desc.MaxOutputBytes <= 0 {
		desc.MaxOutputBytes = DefaultMaxOutputBytes
	}

	for name, s := range m.Scripts {
		if s.Path == "" {
			return nil, fmt.Errorf("manifest %s: script %q has no path", path, name)
		}
		if s.Params == nil {
			return nil, fmt.Errorf("manifest %s: script %q has no parameter schema", path, name)
		}
		scriptPath := filepath.Join(dir, s.Path)
		info, err := os.Stat(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: script %q: %w", path, name, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("manifest %s: script %q points at a directory", path, name)
		}
		desc.scripts[name] = ScriptSpec{
			Name:        name,
			Path:        scriptPath,
			Description: s.Description,
			Params:      s.Params,
		}
	}

	return desc, nil
}
