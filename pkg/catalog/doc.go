/*
Package catalog manages the durable JSON documents of a Firn database:
the per-database catalog (table registry) and the per-table manifest
(schema plus ordered shard list).

Both documents are written with the write-temp-then-rename discipline so
a crash never leaves a half-written file, and both use a stable layout
(sorted keys, 2-space indent, trailing newline) that diffs cleanly.

The invariant maintained across CREATE and DROP is that every table
named in the catalog has a directory with a valid manifest carrying the
same table_id. Writers order their steps so the catalog reference is
always the last thing written on create and the surviving document on
drop.
*/
package catalog
