package validator

import (
	"fmt"
	"sort"

	"github.com/aretw0/pergola/pkg/domain"
)

// ValidateTopology checks a graph shape for dangling references, illegal use of
// the reserved START/END markers, missing or ambiguous successors, empty branch
// tables, unreachable nodes and interrupt policies naming unknown nodes.
// Every problem found is reported in a single *domain.CompileError.
// Cycles are legal.
func ValidateTopology(topo domain.Topology) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	declared := make(map[string]bool, len(topo.Nodes))
	for _, n := range topo.Nodes {
		switch {
		case n == "":
			fail("node name must not be empty")
		case n == domain.START || n == domain.END:
			fail("node name %q is reserved", n)
		case declared[n]:
			fail("node %q declared more than once", n)
		}
		declared[n] = true
	}

	isSource := func(n string) bool { return n == domain.START || (declared[n] && n != domain.END) }
	isTarget := func(n string) bool { return n == domain.END || (declared[n] && n != domain.START) }

	outgoing := make(map[string]int)
	adjacency := make(map[string][]string)

	for _, e := range topo.Edges {
		switch {
		case e.From == domain.END:
			fail("edge out of %s is not allowed", domain.END)
			continue
		case !isSource(e.From):
			fail("edge source %q is not a declared node", e.From)
			continue
		}
		outgoing[e.From]++

		if e.Conditional && len(e.Branches) == 0 {
			fail("conditional edge from %q has an empty branch table", e.From)
			continue
		}
		for _, key := range sortedBranchKeys(e) {
			to := e.To
			if e.Conditional {
				to = e.Branches[key]
			}
			switch {
			case to == domain.START:
				fail("edge %q -> %s: %s has no incoming edges", e.From, domain.START, domain.START)
			case !isTarget(to):
				if e.Conditional {
					fail("branch %q from %q targets undeclared node %q", key, e.From, to)
				} else {
					fail("edge %q -> %q targets undeclared node", e.From, to)
				}
			default:
				adjacency[e.From] = append(adjacency[e.From], to)
			}
		}
	}

	switch n := outgoing[domain.START]; {
	case n == 0:
		fail("%s has no outgoing edge (set an entry node)", domain.START)
	case n > 1:
		fail("%s must have exactly one outgoing edge, found %d", domain.START, n)
	}

	for _, n := range topo.Nodes {
		if n == "" || n == domain.START || n == domain.END {
			continue
		}
		switch c := outgoing[n]; {
		case c == 0:
			fail("node %q has no outgoing edge", n)
		case c > 1:
			fail("node %q has %d outgoing edges, want exactly one", n, c)
		}
	}

	reached := crawl(adjacency)
	for _, n := range topo.Nodes {
		if declared[n] && n != domain.START && n != domain.END && !reached[n] {
			fail("node %q is unreachable from %s", n, domain.START)
		}
	}

	for _, n := range topo.Policy.Before {
		if !declared[n] || n == domain.START || n == domain.END {
			fail("interrupt before %q: not a declared node", n)
		}
	}
	for _, n := range topo.Policy.After {
		if !declared[n] || n == domain.START || n == domain.END {
			fail("interrupt after %q: not a declared node", n)
		}
	}

	if len(errs) > 0 {
		return &domain.CompileError{Graph: topo.Name, Errors: errs}
	}
	return nil
}

// crawl walks the adjacency breadth-first from START.
func crawl(adjacency map[string][]string) map[string]bool {
	visited := map[string]bool{domain.START: true}
	queue := []string{domain.START}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

func sortedBranchKeys(e domain.Edge) []string {
	if !e.Conditional {
		return []string{""}
	}
	keys := make([]string, 0, len(e.Branches))
	for k := range e.Branches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
