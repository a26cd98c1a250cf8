// Package engine wraps the embedded DuckDB instance a worker executes
// plan statements against. The planner's SQL output is exactly the
// subset DuckDB supports: parquet path literals, COPY ... TO with
// FORMAT PARQUET, WITH CTEs, UNION ALL, and the five aggregates.
package engine
