/*
Package orchestrator is the control plane of a Firn deployment.

It accepts external queries over HTTP, parses them, and dispatches by
kind: CREATE, DROP and INSERT pass through to a single live worker,
while SELECT is compiled by the planner into level-ordered statements
and driven to completion one statement at a time. Statements within a
level are independent, but the dispatcher is deliberately sequential;
any future parallel fan-out must still finish level N before starting
level N+1.

Worker selection blocks: if no worker is live the dispatcher polls the
registry every 500ms until one appears or the per-query wait timeout
elapses. Failures are never retried here; the error report carries the
failing step and everything executed before it.
*/
package orchestrator
