/*
Package graph declares and compiles pergola graphs in Go.

A Builder collects nodes (name + Handler), fixed edges, conditional edges
(Router + branch table) and per-field merge rules. Compile validates the
whole definition at once and produces an immutable Plan bound to an
interrupt policy.

Example usage:

	b := graph.New("fridge").
		AddNode("open", graph.HandlerFunc(openDoor)).
		AddNode("put", graph.HandlerFunc(putItem)).
		AddNode("close", graph.HandlerFunc(closeDoor)).
		SetEntry("open").
		AddEdge("open", "put").
		AddEdge("put", "close").
		AddEdge("close", domain.END)

	plan, err := b.Compile(domain.InterruptPolicy{Before: []string{"close"}})

Cycles are allowed; a router that eventually picks a branch leading to END
terminates the run.
*/
package graph
