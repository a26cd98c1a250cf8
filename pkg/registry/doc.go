/*
Package registry tracks live compute workers for the orchestrator.

Workers appear through an explicit register call and stay live as long
as heartbeats arrive within the TTL. Expiry is passive: dead entries are
filtered out of ListActive, never deleted, and come back to life with
the next heartbeat. The registry has no persistence; a restart loses all
workers and recovers them within one heartbeat period.
*/
package registry
