package domain

// Edge is a declared transition out of a node.
// A fixed edge has To set; a conditional edge has Branches set instead.
type Edge struct {
	From        string            `json:"from"`
	To          string            `json:"to,omitempty"`
	Conditional bool              `json:"conditional,omitempty"`
	Branches    map[string]string `json:"branches,omitempty"`
}

// Targets returns every node the edge can lead to.
func (e Edge) Targets() []string {
	if !e.Conditional {
		return []string{e.To}
	}
	out := make([]string, 0, len(e.Branches))
	for _, to := range e.Branches {
		out = append(out, to)
	}
	return out
}

// Topology is the handler-free shape of a graph definition.
type Topology struct {
	Name   string          `json:"name,omitempty"`
	Nodes  []string        `json:"nodes"`
	Edges  []Edge          `json:"edges"`
	Policy InterruptPolicy `json:"interrupts"`
}
