// Package agent defines spec.md §3's AgentDescriptor registry record and
// loads it from a directory of YAML files, following the shape of the
// teacher's pkg/config.AgentConfig/ModelConfig: plain structs with
// yaml tags, loaded at startup.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/docker/agent-substrate/pkg/errkind"
)

// Permission is a tool capability an agent may be granted.
type Permission string

const (
	PermissionNone  Permission = "none"
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionExec  Permission = "exec"
)

// ParamSchema describes one accepted invocation parameter.
type ParamSchema struct {
	Name     string   `yaml:"name"`
	Required bool     `yaml:"required,omitempty"`
	Default  string   `yaml:"default,omitempty"`
	Enum     []string `yaml:"enum,omitempty"`
}

// Valid reports whether value is acceptable for this parameter: any
// value when Enum is empty, otherwise an exact (case-sensitive) match.
func (p ParamSchema) Valid(value string) bool {
	if len(p.Enum) == 0 {
		return true
	}
	for _, e := range p.Enum {
		if e == value {
			return true
		}
	}
	return false
}

// Descriptor is spec.md §3's AgentDescriptor registry record.
type Descriptor struct {
	Name             string                `yaml:"name"`
	Description      string                `yaml:"description"`
	Intelligence     string                `yaml:"intelligence,omitempty"`
	ModeOverride     string                `yaml:"mode_override,omitempty"`
	ToolPermissions  map[string]Permission `yaml:"tool_permissions,omitempty"`
	AllowedFileGlobs []string              `yaml:"allowed_file_globs,omitempty"`
	Tags             []string              `yaml:"tags,omitempty"`
	Chainable        bool                  `yaml:"chainable,omitempty"`
	Parallelizable   bool                  `yaml:"parallelizable,omitempty"`
	TimeoutSeconds   int                   `yaml:"timeout_seconds,omitempty"`
	Parameters       []ParamSchema         `yaml:"parameters,omitempty"`
}

// ParamSchemaFor returns the schema for a named parameter, or false if
// the descriptor declares no schema for it.
func (d Descriptor) ParamSchemaFor(name string) (ParamSchema, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSchema{}, false
}

// PermissionFor returns the declared permission for a tool, defaulting
// to PermissionNone when the descriptor doesn't mention it.
func (d Descriptor) PermissionFor(tool string) Permission {
	if p, ok := d.ToolPermissions[tool]; ok {
		return p
	}
	return PermissionNone
}

func validate(path string, d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%s: agent name is required", path)
	}
	if d.Name != strings.ToLower(d.Name) {
		return fmt.Errorf("%s: agent name %q must be lowercase kebab-case", path, d.Name)
	}
	if strings.ContainsAny(d.Name, " _") {
		return fmt.Errorf("%s: agent name %q must be kebab-case", path, d.Name)
	}
	return nil
}

// LoadDir loads every *.yaml/*.yml file in dir as a Descriptor. Unknown
// YAML fields are ignored (goccy/go-yaml's default decode behavior); a
// schema violation (missing/invalid name) fails loudly with the file
// path, per spec.md §6.
func LoadDir(dir string) (map[string]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errkind.New(errkind.External, fmt.Errorf("load agent descriptors: read %s: %w", dir, err))
	}

	out := make(map[string]Descriptor)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errkind.New(errkind.External, fmt.Errorf("load agent descriptors: read %s: %w", path, err))
		}

		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, errkind.New(errkind.Input, fmt.Errorf("load agent descriptors: parse %s: %w", path, err))
		}
		if err := validate(path, d); err != nil {
			return nil, errkind.New(errkind.Input, err)
		}
		if _, dup := out[d.Name]; dup {
			return nil, errkind.New(errkind.Input, fmt.Errorf("%s: duplicate agent name %q", path, d.Name))
		}
		out[d.Name] = d
	}

	return out, nil
}

// Registry is an in-memory lookup of Descriptors by name, the
// validation target for spec.md §4.5's invocation parser output.
type Registry struct {
	agents map[string]Descriptor
}

// NewRegistry wraps a pre-loaded descriptor map.
func NewRegistry(agents map[string]Descriptor) *Registry {
	if agents == nil {
		agents = make(map[string]Descriptor)
	}
	return &Registry{agents: agents}
}

// Get returns the Descriptor for name, or false if unregistered.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.agents[name]
	return d, ok
}

// Names returns every registered agent name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	return out
}
