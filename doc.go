/*
Package pergola is a stateful graph execution engine for building
human-in-the-loop workflows and agent loops.

A graph is a set of named nodes, each a Handler that reads the shared State and
returns a partial update, joined by fixed or conditional edges. The engine runs
one node per step, merges the update with each field's rule (overwrite or
append) and writes a checkpoint after every step, so any run can stop and
continue later, possibly in another process.

# Concept

Runs can be suspended on purpose. An InterruptPolicy names nodes to pause
before or after, and a Router may report that a decision is still pending. A
human (or any external system) then inspects the checkpoint, patches its state
and resumes. The patched state is what the rest of the run sees.

	plan, err := graph.New("fridge").
		AddNode("open", graph.HandlerFunc(openDoor)).
		AddNode("put", graph.HandlerFunc(putItem)).
		AddNode("close", graph.HandlerFunc(closeDoor)).
		SetEntry("open").
		AddEdge("open", "put").
		AddEdge("put", "close").
		AddEdge("close", domain.END).
		Compile(domain.InterruptPolicy{Before: []string{"close"}})
	if err != nil {
		log.Fatal(err)
	}

	eng, err := pergola.New(plan, pergola.WithStore(file.New(".pergola/runs")))
	if err != nil {
		log.Fatal(err)
	}

	res, err := eng.Start(ctx, "thread-1", domain.State{"door_open": false})
	// res.Status == suspended, res.Next == "close"
	res, err = eng.Resume(ctx, "thread-1", domain.State{"human_decision": "no"})
	// res.Status == completed

# Stores

Checkpoints go through ports.CheckpointStore. The memory, file, redis and
sqlite adapters all satisfy the same contract, and the persistence middleware
adds encryption at rest or field masking on top of any of them.

Writes to one run are serialized; distinct runs proceed in parallel.
*/
package pergola
