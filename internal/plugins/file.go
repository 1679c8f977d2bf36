package plugins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
)

const (
	specKindBuiltin  = "builtin"
	specKindExternal = "external"

	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable_http"
)

// Spec is one entry of the plugin config file. Builtin entries name a
// registered factory; external entries describe the plugin process and
// how to reach it.
type Spec struct {
	Name string `yaml:"name"`

	// Kind is builtin or external; empty means builtin.
	Kind string `yaml:"kind,omitempty"`

	// Uses selects the builtin factory; empty defaults to Name.
	Uses string `yaml:"uses,omitempty"`

	Priority       int        `yaml:"priority,omitempty"`
	Mode           Mode       `yaml:"mode,omitempty"`
	SideEffectFree bool       `yaml:"side_effect_free,omitempty"`
	Hooks          []Hook     `yaml:"hooks,omitempty"`
	Conditions     Conditions `yaml:"conditions,omitempty"`

	// Config carries plugin-specific settings through to the factory.
	Config map[string]any `yaml:"config,omitempty"`

	// Transport is stdio or streamable_http, external plugins only.
	Transport string            `yaml:"transport,omitempty"`
	Command   []string          `yaml:"command,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	TimeoutMs int               `yaml:"timeout_ms,omitempty"`
}

type specFile struct {
	Plugins []Spec `yaml:"plugins"`
}

// LoadSpecs reads and validates a plugins.yaml file.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin config: %w", err)
	}
	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plugin config %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Plugins))
	for i := range file.Plugins {
		spec := &file.Plugins[i]
		if spec.Name == "" {
			return nil, mcperr.Newf(mcperr.KindInvalidRequest, "plugin config %s: entry %d has no name", path, i)
		}
		if seen[spec.Name] {
			return nil, mcperr.Newf(mcperr.KindInvalidRequest, "plugin config %s: duplicate plugin %q", path, spec.Name)
		}
		seen[spec.Name] = true
		if spec.Kind == "" {
			spec.Kind = specKindBuiltin
		}
		if spec.Mode != "" && !spec.Mode.valid() {
			return nil, mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: unknown mode %q", spec.Name, spec.Mode)
		}
		switch spec.Kind {
		case specKindBuiltin:
		case specKindExternal:
			if err := validateExternal(spec); err != nil {
				return nil, err
			}
		default:
			return nil, mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: unknown kind %q", spec.Name, spec.Kind)
		}
	}
	return file.Plugins, nil
}

func validateExternal(spec *Spec) error {
	if len(spec.Hooks) == 0 {
		return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: external plugins must declare hooks", spec.Name)
	}
	switch spec.Transport {
	case transportStdio:
		if len(spec.Command) == 0 {
			return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: stdio transport needs a command", spec.Name)
		}
	case transportStreamableHTTP:
		if spec.URL == "" {
			return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: streamable_http transport needs a url", spec.Name)
		}
	default:
		return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: unknown transport %q", spec.Name, spec.Transport)
	}
	return nil
}

// LoadFile registers every plugin the config file describes. Builtin
// entries resolve against the factory registry; external entries get an
// External wrapper.
func (m *Manager) LoadFile(path string) error {
	specs, err := LoadSpecs(path)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		var p Plugin
		switch spec.Kind {
		case specKindExternal:
			p = NewExternal(spec, m.cfg.ExternalTimeout, m.logger)
		default:
			factory := spec.Uses
			if factory == "" {
				factory = spec.Name
			}
			m.mu.RLock()
			f, ok := m.factories[factory]
			m.mu.RUnlock()
			if !ok {
				return mcperr.Newf(mcperr.KindInvalidRequest, "plugin %q: no builtin factory %q", spec.Name, factory)
			}
			built, err := f(spec)
			if err != nil {
				return fmt.Errorf("build plugin %q: %w", spec.Name, err)
			}
			p = built
		}
		if err := m.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Base implements the descriptive half of Plugin from a file spec.
// Builtin factories embed it and add Hooks.
type Base struct {
	Spec Spec
}

func (b Base) Name() string           { return b.Spec.Name }
func (b Base) Priority() int          { return b.Spec.Priority }
func (b Base) Mode() Mode             { return b.Spec.Mode }
func (b Base) Conditions() Conditions { return b.Spec.Conditions }
func (b Base) SideEffectFree() bool   { return b.Spec.SideEffectFree }

// Func bundles a handler table into a Plugin, for plugins small enough
// not to warrant a type of their own.
func Func(spec Spec, table map[Hook]Handler) Plugin {
	return &funcPlugin{Base: Base{Spec: spec}, table: table}
}

type funcPlugin struct {
	Base
	table map[Hook]Handler
}

func (p *funcPlugin) Hooks() map[Hook]Handler { return p.table }
