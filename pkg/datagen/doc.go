// Package datagen fills tables with synthetic rows for benchmarks and
// demos. Generation goes through the worker's real create and insert
// paths, so every generated shard satisfies the same schema validation
// user data does.
package datagen
