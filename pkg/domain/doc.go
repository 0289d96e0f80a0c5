/*
Package domain contains the core models of the pergola graph engine.

It defines the state threaded through a graph, the rules used to merge
partial updates into it, and the checkpoints that make runs durable. This
package is kept pure and free of I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - State: the opaque record handed to every node handler.
  - Fields: per-field merge rules (overwrite or append).
  - Checkpoint: a snapshot of a run between steps (state, pending node, interrupt flag).
  - InterruptPolicy: nodes before/after which a run pauses.
  - Topology: the handler-free shape of a graph, used by validation.
*/
package domain
