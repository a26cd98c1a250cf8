package planner

import (
	"fmt"
	"path"
	"strings"

	"github.com/firnlabs/firn/pkg/types"
)

// InputsLevel says what kind of outputs a reduce statement reads: raw
// map measures, or already-merged partial columns.
type InputsLevel string

const (
	InputsMap    InputsLevel = "map"
	InputsInterm InputsLevel = "interm"
)

// Statement is one materialising step of a plan: a self-contained SQL
// statement writing a single parquet file.
type Statement struct {
	SQL     string
	OutPath string
}

// Plan is a level-ordered list of statements. Statements within one
// level are independent; level N+1 reads only level N's outputs.
type Plan struct {
	Fanout int
	Levels [][]Statement
}

// Build compiles a SELECT over the table's shard list into plan levels:
// one map statement per shard, zero or more partial-reduce levels that
// merge fanout inputs apiece, and one final statement materialising the
// user-visible output at outPath.
func Build(q *types.SelectQuery, shards []string, dbPath, tmpDir, outPath string) (*Plan, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards to plan over for table %q", q.Table)
	}

	fanout := Fanout(len(shards))
	plan := &Plan{Fanout: fanout}

	mapLevel := make([]Statement, 0, len(shards))
	current := make([]string, 0, len(shards))
	for _, shard := range shards {
		st, err := MapStatement(q, shard, dbPath, tmpDir)
		if err != nil {
			return nil, err
		}
		mapLevel = append(mapLevel, st)
		current = append(current, st.OutPath)
	}
	plan.Levels = append(plan.Levels, mapLevel)

	inputs := InputsMap
	for level := 0; len(current) > fanout; level++ {
		var stmts []Statement
		var next []string

		for i := 0; i < len(current); i += fanout {
			chunk := current[i:min(i+fanout, len(current))]
			tag := fmt.Sprintf("r%d_%d", level, i/fanout)
			st, err := IntermediateStatement(q, chunk, tmpDir, tag, inputs)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, st)
			next = append(next, st.OutPath)
		}

		plan.Levels = append(plan.Levels, stmts)
		current = next
		inputs = InputsInterm
	}

	final, err := FinalStatement(q, current, outPath, inputs)
	if err != nil {
		return nil, err
	}
	plan.Levels = append(plan.Levels, []Statement{final})

	return plan, nil
}

// NumStatements counts every statement across all levels.
func (p *Plan) NumStatements() int {
	n := 0
	for _, level := range p.Levels {
		n += len(level)
	}
	return n
}

// MapStatement reads one shard through the query's filters and emits the
// per-shard measures.
func MapStatement(q *types.SelectQuery, shard, dbPath, tmpDir string) (Statement, error) {
	group := groupCols(q)

	var parts []string
	appendUnique := func(col string) {
		for _, p := range parts {
			if p == col {
				return
			}
		}
		parts = append(parts, col)
	}

	for _, item := range q.Select {
		if ref, ok := item.(types.ColumnRef); ok {
			appendUnique(ref.Name)
		}
	}
	for _, c := range group {
		appendUnique(c)
	}
	for _, m := range requiredMapMeasures(q) {
		parts = append(parts, fmt.Sprintf("%s(%s) AS %s", m.f, m.col, mapAlias(m.f, m.col)))
	}
	if len(parts) == 0 {
		parts = append(parts, "*")
	}

	sql := fmt.Sprintf("SELECT %s FROM '%s'", strings.Join(parts, ", "), path.Join(dbPath, q.Table, shard))

	if len(q.Where) > 0 {
		where, err := renderWhere(q.Where)
		if err != nil {
			return Statement{}, err
		}
		sql += " WHERE " + where
	}
	if len(group) > 0 {
		sql += " GROUP BY " + strings.Join(group, ", ")
	}

	out := path.Join(tmpDir, fmt.Sprintf("map__%s__%s.parquet", q.Table, safeIdent(shard)))
	return Statement{SQL: materialize(sql, out), OutPath: out}, nil
}

// IntermediateStatement merges one chunk of inputs into a single partial
// output. inputs tells it whether the chunk carries raw map measures or
// partial columns; partial naming is idempotent, so every level after
// the first consumes and emits the same column names.
func IntermediateStatement(q *types.SelectQuery, chunk []string, tmpDir, tag string, inputs InputsLevel) (Statement, error) {
	out := path.Join(tmpDir, fmt.Sprintf("reduce__%s__%s.parquet", q.Table, safeIdent(tag)))

	sel, err := reduceSelect(q, chunk, inputs, false)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: materialize(sel, out), OutPath: out}, nil
}

// FinalStatement merges the last set of inputs and produces the
// user-visible columns, reconstituting avg as sum-of-sums over
// sum-of-counts.
func FinalStatement(q *types.SelectQuery, chunk []string, outPath string, inputs InputsLevel) (Statement, error) {
	sel, err := reduceSelect(q, chunk, inputs, true)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: materialize(sel, outPath), OutPath: outPath}, nil
}

// reduceSelect builds the SELECT shared by intermediate and final
// levels: a UNION ALL CTE over the inputs plus either partial-merge or
// final projections.
func reduceSelect(q *types.SelectQuery, chunk []string, inputs InputsLevel, final bool) (string, error) {
	group := groupCols(q)
	union := unionAllSelectStar(chunk)

	if !q.HasAggregates() {
		if len(group) > 0 {
			return fmt.Sprintf(
				"WITH partial AS (%s) SELECT %s FROM partial GROUP BY %s",
				union, strings.Join(group, ", "), strings.Join(group, ", "),
			), nil
		}
		return fmt.Sprintf("WITH partial AS (%s) SELECT * FROM partial", union), nil
	}

	var sel []string
	sel = append(sel, group...)

	for _, item := range q.Select {
		a, ok := item.(types.AggExpr)
		if !ok {
			continue
		}

		var exprs []string
		var err error
		if final {
			exprs, err = finalProjection(q, a, inputs)
		} else {
			exprs, err = partialProjection(q, a, inputs)
		}
		if err != nil {
			return "", err
		}
		sel = append(sel, exprs...)
	}

	sql := fmt.Sprintf("WITH partial AS (%s) SELECT %s FROM partial", union, strings.Join(sel, ", "))
	if len(group) > 0 {
		sql += " GROUP BY " + strings.Join(group, ", ")
	}
	return sql, nil
}

// partialProjection emits the merge expressions carrying one aggregate
// through an intermediate level.
func partialProjection(q *types.SelectQuery, a types.AggExpr, inputs InputsLevel) ([]string, error) {
	if a.Func == types.AggAvg {
		alias := avgAlias(a)

		countIn := alias + "_count_partial"
		if inputs == InputsMap {
			countIn = mapAlias(types.AggCount, a.Col)
		}
		out := []string{fmt.Sprintf("sum(%s) AS %s_count_partial", countIn, alias)}

		// An explicit sum over the same column already carries the sum
		// partial; don't emit it twice.
		if _, ok := sumForCol(q, a.Col); !ok {
			sumIn := alias + "_sum_partial"
			if inputs == InputsMap {
				sumIn = mapAlias(types.AggSum, a.Col)
			}
			out = append(out, fmt.Sprintf("sum(%s) AS %s_sum_partial", sumIn, alias))
		}
		return out, nil
	}

	in := partialAlias(a)
	if inputs == InputsMap {
		in = mapAlias(a.Func, a.Col)
	}
	return []string{fmt.Sprintf("%s(%s) AS %s", mergeFunc(a.Func), in, partialAlias(a))}, nil
}

// finalProjection emits the user-visible expression for one aggregate.
func finalProjection(q *types.SelectQuery, a types.AggExpr, inputs InputsLevel) ([]string, error) {
	if a.Func == types.AggAvg {
		alias := avgAlias(a)

		sumIn := alias + "_sum_partial"
		countIn := alias + "_count_partial"
		if sumAgg, ok := sumForCol(q, a.Col); ok && inputs == InputsInterm {
			sumIn = partialAlias(sumAgg)
		}
		if inputs == InputsMap {
			sumIn = mapAlias(types.AggSum, a.Col)
			countIn = mapAlias(types.AggCount, a.Col)
		}

		return []string{fmt.Sprintf("sum(%s) / nullif(sum(%s), 0) AS %s", sumIn, countIn, alias)}, nil
	}

	in := partialAlias(a)
	if inputs == InputsMap {
		in = mapAlias(a.Func, a.Col)
	}
	return []string{fmt.Sprintf("%s(%s) AS %s", mergeFunc(a.Func), in, defaultAlias(a))}, nil
}
