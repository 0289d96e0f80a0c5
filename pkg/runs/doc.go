/*
Package runs serializes writes to a single run.

A Manager hands out one lock per run ID. Locks are reference counted so the
table only holds runs that are currently in use, and an optional
DistributedLocker extends the guarantee across engine replicas sharing a store.
Distinct runs never contend.
*/
package runs
