package loader

import (
	"fmt"
	"sort"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/aretw0/pergola/pkg/schema"
)

// Definition is the declarative form of a graph.
type Definition struct {
	Name      string             `mapstructure:"name" json:"name"`
	Entry     string             `mapstructure:"entry" json:"entry"`
	Fields    map[string]string  `mapstructure:"fields" json:"fields,omitempty"`
	Schema    map[string]string  `mapstructure:"schema" json:"schema,omitempty"`
	Interrupt InterruptDef       `mapstructure:"interrupt" json:"interrupt"`
	Nodes     map[string]NodeDef `mapstructure:"nodes" json:"nodes"`
}

// InterruptDef lists the nodes to pause before or after.
type InterruptDef struct {
	Before []string `mapstructure:"before" json:"before,omitempty"`
	After  []string `mapstructure:"after" json:"after,omitempty"`
}

// NodeDef declares one node and its outgoing edge.
// Either Handler (with Args) or the step shorthand keys may be used, not both.
// Either Next or Route must be set.
type NodeDef struct {
	Handler string         `mapstructure:"handler" json:"handler,omitempty"`
	Args    map[string]any `mapstructure:"args" json:"args,omitempty"`

	Require map[string]any `mapstructure:"require" json:"require,omitempty"`
	Set     map[string]any `mapstructure:"set" json:"set,omitempty"`
	Append  map[string]any `mapstructure:"append" json:"append,omitempty"`
	Switch  map[string]any `mapstructure:"switch" json:"switch,omitempty"`

	Next  string    `mapstructure:"next" json:"next,omitempty"`
	Route *RouteDef `mapstructure:"route" json:"route,omitempty"`
}

// RouteDef declares a conditional edge. Field is shorthand for Args{"field": Field}.
type RouteDef struct {
	Router   string            `mapstructure:"router" json:"router,omitempty"`
	Field    string            `mapstructure:"field" json:"field,omitempty"`
	Args     map[string]any    `mapstructure:"args" json:"args,omitempty"`
	Branches map[string]string `mapstructure:"branches" json:"branches"`
}

// Policy returns the declared interrupt policy.
func (d *Definition) Policy() domain.InterruptPolicy {
	return domain.InterruptPolicy{Before: d.Interrupt.Before, After: d.Interrupt.After}
}

// Compile builds the graph with the declared interrupt policy.
func (d *Definition) Compile(reg *registry.Registry) (*graph.Plan, error) {
	b, err := d.Builder(reg)
	if err != nil {
		return nil, err
	}
	return b.Compile(d.Policy())
}

// Builder resolves every handler and router through reg and returns a builder
// ready to compile, so callers can substitute their own interrupt policy.
func (d *Definition) Builder(reg *registry.Registry) (*graph.Builder, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("graph name is required")
	}
	if d.Entry == "" {
		return nil, fmt.Errorf("graph %q: entry is required", d.Name)
	}

	b := graph.New(d.Name).SetEntry(d.Entry)

	for _, field := range sortedKeys(d.Fields) {
		rule, err := domain.ParseMergeRule(d.Fields[field])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		b.Field(field, rule)
	}
	if len(d.Schema) > 0 {
		s, err := schema.ParseTypeMap(d.Schema)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		b.Schema(s)
	}

	for _, name := range sortedKeys(d.Nodes) {
		node := d.Nodes[name]

		handlerName, args, err := node.handler()
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
		h, err := reg.Handler(handlerName, args)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
		b.AddNode(name, h)

		switch {
		case node.Next != "" && node.Route != nil:
			return nil, fmt.Errorf("node %q: next and route are mutually exclusive", name)
		case node.Next != "":
			b.AddEdge(name, endAlias(node.Next))
		case node.Route != nil:
			rt, err := node.Route.router(reg)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", name, err)
			}
			branches := make(map[string]string, len(node.Route.Branches))
			for k, v := range node.Route.Branches {
				branches[k] = endAlias(v)
			}
			b.AddConditionalEdge(name, rt, branches)
		}
	}
	return b, nil
}

func (n NodeDef) handler() (string, map[string]any, error) {
	shorthand := map[string]any{}
	if n.Require != nil {
		shorthand["require"] = n.Require
	}
	if n.Set != nil {
		shorthand["set"] = n.Set
	}
	if n.Append != nil {
		shorthand["append"] = n.Append
	}
	if n.Switch != nil {
		shorthand["switch"] = n.Switch
	}

	switch {
	case n.Handler != "" && len(shorthand) > 0:
		return "", nil, fmt.Errorf("handler %q cannot be combined with require/set/append/switch", n.Handler)
	case n.Handler != "":
		return n.Handler, n.Args, nil
	case len(n.Args) > 0:
		return "", nil, fmt.Errorf("args given without a handler")
	case len(shorthand) == 0:
		return registry.HandlerNoop, nil, nil
	}
	return registry.HandlerStep, shorthand, nil
}

func (r *RouteDef) router(reg *registry.Registry) (graph.Router, error) {
	name := r.Router
	if name == "" {
		name = registry.RouterField
	}
	args := r.Args
	if r.Field != "" {
		if _, dup := args["field"]; dup {
			return nil, fmt.Errorf("route field given twice")
		}
		args = make(map[string]any, len(r.Args)+1)
		for k, v := range r.Args {
			args[k] = v
		}
		args["field"] = r.Field
	}
	return reg.Router(name, args)
}

// endAlias lets definitions spell the terminal marker as END.
func endAlias(target string) string {
	if target == "END" {
		return domain.END
	}
	return target
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
