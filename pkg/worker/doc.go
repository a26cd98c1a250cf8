/*
Package worker implements a Firn compute node.

A worker exposes one RPC endpoint receiving tagged task requests.
CREATE, DROP and INSERT apply to the local filesystem through the
catalog and manifest documents; SELECT statements are handed to the
embedded engine unmodified, since the orchestrator already compiled
them into self-contained materialising SQL. All operations are
synchronous from the caller's viewpoint.

A background heartbeat task keeps the worker visible in the
orchestrator's registry, re-registering automatically when the
orchestrator restarts and forgets it.
*/
package worker
