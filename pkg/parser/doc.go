/*
Package parser lowers raw SQL-subset statements into typed queries.

The parser is a deliberately small hand-written tokeniser plus recursive
recogniser. Preprocessing case-folds everything outside single-quoted
literals, glues multi-word keywords (GROUP BY, IS NOT NULL, IF NOT
EXISTS, ROWS PER SHARD) into single tokens, and pads punctuation so the
statement splits on whitespace. Dispatch is on the first token:
SELECT, CREATE, DROP or INSERT.

The grammar supports a single table per SELECT, AND-joined predicates,
and the five aggregates count/sum/min/max/avg. Parsing is deterministic,
total on well-formed inputs, and never consults the catalog.
*/
package parser
