/*
Package types defines the shared data model of Firn: parsed query
variants, table schema descriptions, worker registry entries, and the
JSON wire types exchanged between orchestrator and workers.

Parsed queries form a tagged union over the Query interface; task
requests carry an explicit kind discriminator on the wire so receivers
never infer the variant from field presence.
*/
package types
