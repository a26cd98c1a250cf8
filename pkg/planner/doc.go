/*
Package planner rewrites an aggregation SELECT into a tree of
materialising SQL statements exchanging partial aggregates through
parquet files.

The plan has three statement kinds. Map statements read one shard each
through the query's filters and emit per-shard measures (count, sum,
min, max; avg decomposes into sum and count). Partial-reduce statements
merge a fanout-sized chunk of prior outputs with the distributive merge
rules: counts and sums re-sum, min and max stay themselves, and every
carried column keeps an idempotent *_partial name so deeper trees reuse
the same projection. The final statement merges the last chunk, renames
partials to their user-visible aliases, and reconstitutes avg as
sum-of-sums over sum-of-counts so no average-of-averages error creeps
in.

The fanout is always a power of two clamped to [2, 256], chosen from a
target number of rows per reducer, which bounds the tree's width and
makes its depth predictable.
*/
package planner
