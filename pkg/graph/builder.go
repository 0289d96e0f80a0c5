package graph

import (
	"fmt"
	"maps"

	"github.com/aretw0/pergola/internal/validator"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/schema"
)

// Builder accumulates a graph definition.
// Mistakes are recorded as they happen and reported together by Compile.
type Builder struct {
	name     string
	order    []string
	handlers map[string]Handler
	edges    []declaredEdge
	fields   domain.Fields
	schema   schema.Schema
	errs     []error
}

type declaredEdge struct {
	domain.Edge
	router Router
}

// New creates a new graph builder.
func New(name string) *Builder {
	return &Builder{
		name:     name,
		handlers: make(map[string]Handler),
		fields:   make(domain.Fields),
		schema:   make(schema.Schema),
	}
}

// AddNode registers a node and its handler.
func (b *Builder) AddNode(name string, h Handler) *Builder {
	b.order = append(b.order, name)
	if h == nil {
		b.errs = append(b.errs, fmt.Errorf("node %q has a nil handler", name))
		return b
	}
	if _, exists := b.handlers[name]; !exists {
		b.handlers[name] = h
	}
	return b
}

// AddEdge declares a fixed transition.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, declaredEdge{Edge: domain.Edge{From: from, To: to}})
	return b
}

// AddConditionalEdge declares a transition chosen at runtime: the router's
// output is looked up in branches to find the successor.
func (b *Builder) AddConditionalEdge(from string, r Router, branches map[string]string) *Builder {
	if r == nil {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from %q has a nil router", from))
	}
	b.edges = append(b.edges, declaredEdge{
		Edge:   domain.Edge{From: from, Conditional: true, Branches: maps.Clone(branches)},
		router: r,
	})
	return b
}

// SetEntry declares the first node to run. It is shorthand for AddEdge(START, name).
func (b *Builder) SetEntry(name string) *Builder {
	return b.AddEdge(domain.START, name)
}

// Field declares the merge rule of a state field. Undeclared fields overwrite.
func (b *Builder) Field(name string, rule domain.MergeRule) *Builder {
	b.fields[name] = rule
	return b
}

// Schema declares expected types for state fields.
func (b *Builder) Schema(s schema.Schema) *Builder {
	maps.Copy(b.schema, s)
	return b
}

// Topology returns the handler-free shape of the graph declared so far.
func (b *Builder) Topology(policy domain.InterruptPolicy) domain.Topology {
	edges := make([]domain.Edge, len(b.edges))
	for i, e := range b.edges {
		edges[i] = e.Edge
	}
	return domain.Topology{
		Name:   b.name,
		Nodes:  append([]string(nil), b.order...),
		Edges:  edges,
		Policy: policy,
	}
}

// Compile validates the definition and returns an immutable Plan bound to policy.
// All problems are reported in one *domain.CompileError.
func (b *Builder) Compile(policy domain.InterruptPolicy) (*Plan, error) {
	topo := b.Topology(policy)

	errs := append([]error(nil), b.errs...)
	if err := validator.ValidateTopology(topo); err != nil {
		if ce, ok := err.(*domain.CompileError); ok {
			errs = append(errs, ce.Errors...)
		} else {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, &domain.CompileError{Graph: b.name, Errors: errs}
	}

	plan := &Plan{
		name:        b.name,
		handlers:    maps.Clone(b.handlers),
		transitions: make(map[string]Transition, len(b.edges)),
		fields:      maps.Clone(b.fields),
		schema:      maps.Clone(b.schema),
		policy: domain.InterruptPolicy{
			Before: append([]string(nil), policy.Before...),
			After:  append([]string(nil), policy.After...),
		},
		topology: topo,
	}
	for _, e := range b.edges {
		plan.transitions[e.From] = Transition{
			To:       e.To,
			Router:   e.router,
			Branches: maps.Clone(e.Branches),
		}
	}
	return plan, nil
}
