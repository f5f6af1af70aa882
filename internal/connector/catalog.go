package connector

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// Capabilities describes what a connector can do. Tool schemas and
// descriptions are derived from it.
type Capabilities struct {
	Service  Service  `yaml:"service"`
	Summary  string   `yaml:"summary"`
	Entities []Entity `yaml:"entities"`
}

type Entity struct {
	Name    string   `yaml:"name"`
	Actions []string `yaml:"actions"`
	Params  []Param  `yaml:"params"`
}

type Param struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Items is the element type when Type is array.
	Items string `yaml:"items"`
	Desc  string `yaml:"desc"`
}

// Params returns the union of params across entities, first declaration wins.
func (c *Capabilities) Params() []Param {
	seen := map[string]bool{}
	var out []Param
	for _, e := range c.Entities {
		for _, p := range e.Params {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

// CatalogFor loads the embedded capability catalog of a service.
func CatalogFor(s Service) (*Capabilities, error) {
	b, err := catalogFS.ReadFile("catalog/" + string(s) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no catalog for connector %q: %w", s, err)
	}
	var c Capabilities
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse catalog for connector %q: %w", s, err)
	}
	if c.Service != s {
		return nil, fmt.Errorf("catalog for %q declares service %q", s, c.Service)
	}
	if len(c.Entities) == 0 {
		return nil, fmt.Errorf("catalog for %q has no entities", s)
	}
	return &c, nil
}

// EntityNames returns entity names in catalog order.
func (c *Capabilities) EntityNames() []string {
	out := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		out = append(out, e.Name)
	}
	return out
}

// ActionNames returns the sorted union of actions across entities.
func (c *Capabilities) ActionNames() []string {
	set := map[string]struct{}{}
	for _, e := range c.Entities {
		for _, a := range e.Actions {
			set[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether entity/action is part of the catalog.
func (c *Capabilities) Supports(entity, action string) bool {
	for _, e := range c.Entities {
		if e.Name != entity {
			continue
		}
		for _, a := range e.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// ToolDescription renders the description handed to the model for the
// service's execute tool.
func (c *Capabilities) ToolDescription() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Execute a %s operation. %s\n", c.Service.DisplayName(), c.Summary)
	sb.WriteString("Call with an entity, an action and optional params.\n\nEntities:\n")
	for _, e := range c.Entities {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Name, strings.Join(e.Actions, ", "))
		for _, p := range e.Params {
			fmt.Fprintf(&sb, "    %s (%s): %s\n", p.Name, p.Type, p.Desc)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ParamsDescription summarises the accepted params per entity.
func (c *Capabilities) ParamsDescription() string {
	parts := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		if len(e.Params) == 0 {
			continue
		}
		names := make([]string, 0, len(e.Params))
		for _, p := range e.Params {
			names = append(names, p.Name)
		}
		parts = append(parts, e.Name+": "+strings.Join(names, ", "))
	}
	return "Optional operation parameters as a JSON object. Accepted keys per entity. " + strings.Join(parts, "; ")
}
