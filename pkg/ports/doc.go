/*
Package ports defines the driven ports (interfaces) of the pergola engine.

These interfaces decouple the executor from storage and coordination backends.

# Key Interfaces

  - CheckpointStore: persists and loads run checkpoints.
  - DistributedLocker: serializes access to a run across engine replicas.

RunCheckpointStoreContract is a reusable test suite every CheckpointStore
adapter runs against itself.
*/
package ports
