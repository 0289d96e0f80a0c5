package graph

import (
	"maps"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/schema"
)

// Transition is how the executor leaves a node: either a fixed successor (To)
// or a Router whose key is resolved through Branches.
type Transition struct {
	To       string
	Router   Router
	Branches map[string]string
}

// Conditional reports whether the successor is chosen by a router.
func (t Transition) Conditional() bool {
	return t.Router != nil
}

// Resolve maps a router key to its target node.
func (t Transition) Resolve(key string) (string, bool) {
	to, ok := t.Branches[key]
	return to, ok
}

// Plan is a compiled, validated graph. It is immutable and safe to share
// between concurrent runs.
type Plan struct {
	name        string
	handlers    map[string]Handler
	transitions map[string]Transition
	fields      domain.Fields
	schema      schema.Schema
	policy      domain.InterruptPolicy
	topology    domain.Topology
}

func (p *Plan) Name() string { return p.name }

// Handler returns the handler registered for node.
func (p *Plan) Handler(node string) (Handler, bool) {
	h, ok := p.handlers[node]
	return h, ok
}

// Transition returns the outgoing transition of node (START included).
// Callers must treat Branches as read-only.
func (p *Plan) Transition(from string) (Transition, bool) {
	t, ok := p.transitions[from]
	return t, ok
}

// Fields returns a copy of the declared merge rules.
func (p *Plan) Fields() domain.Fields { return maps.Clone(p.fields) }

// Schema returns a copy of the declared field types.
func (p *Plan) Schema() schema.Schema { return maps.Clone(p.schema) }

func (p *Plan) Policy() domain.InterruptPolicy { return p.policy }

func (p *Plan) Topology() domain.Topology { return p.topology }

// Nodes returns the declared node names in declaration order.
func (p *Plan) Nodes() []string {
	return append([]string(nil), p.topology.Nodes...)
}
