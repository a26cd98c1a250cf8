package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/firnlabs/firn/pkg/types"
)

// safeIdent makes a column or shard name usable inside a generated
// identifier.
func safeIdent(s string) string {
	r := strings.NewReplacer("*", "star", ".", "_", "-", "_")
	return r.Replace(s)
}

// renderPredicate unparses one WHERE conjunct back to SQL. String
// literals are re-wrapped in single quotes unless already quoted.
func renderPredicate(p types.PredicateTerm) (string, error) {
	op := strings.ToLower(strings.ReplaceAll(p.Op, "_", " "))

	if op == "is null" || op == "is not null" {
		return fmt.Sprintf("%s %s", p.Col, op), nil
	}

	if p.Value == nil {
		return "", fmt.Errorf("predicate %s %s requires a value", p.Col, op)
	}

	var lit string
	switch v := p.Value.(type) {
	case string:
		if strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") {
			lit = v
		} else {
			lit = "'" + v + "'"
		}
	case int64:
		lit = strconv.FormatInt(v, 10)
	case int:
		lit = strconv.Itoa(v)
	case float64:
		lit = strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return "", fmt.Errorf("unsupported literal type %T for %s", p.Value, p.Col)
	}

	return fmt.Sprintf("%s %s %s", p.Col, op, lit), nil
}

func renderWhere(preds []types.PredicateTerm) (string, error) {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		s, err := renderPredicate(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " AND "), nil
}

// groupCols returns the effective grouping set: the explicit GROUP BY,
// or, when the select list mixes raw columns and aggregates, the raw
// columns implicitly.
func groupCols(q *types.SelectQuery) []string {
	if q.GroupBy != nil {
		return q.GroupBy
	}
	if !q.HasAggregates() {
		return nil
	}
	var cols []string
	for _, item := range q.Select {
		if ref, ok := item.(types.ColumnRef); ok {
			cols = append(cols, ref.Name)
		}
	}
	return cols
}

func aggs(q *types.SelectQuery) []types.AggExpr {
	var out []types.AggExpr
	for _, item := range q.Select {
		if a, ok := item.(types.AggExpr); ok {
			out = append(out, a)
		}
	}
	return out
}

// sumForCol finds an explicit sum(col) in the select list, if any. An
// avg over the same column shares its map measure and its partial.
func sumForCol(q *types.SelectQuery, col string) (types.AggExpr, bool) {
	for _, a := range aggs(q) {
		if a.Func == types.AggSum && a.Col == col {
			return a, true
		}
	}
	return types.AggExpr{}, false
}

// mapAlias names the per-shard measure column for an aggregate.
func mapAlias(f types.AggFunc, col string) string {
	id := safeIdent(col)
	switch f {
	case types.AggCount:
		return "c_" + id
	case types.AggSum:
		return "s_" + id
	case types.AggMin:
		return "min_" + id
	case types.AggMax:
		return "max_" + id
	}
	return ""
}

// mergeFunc is the aggregate that merges partials of f: counts and sums
// re-sum, min and max stay themselves.
func mergeFunc(f types.AggFunc) types.AggFunc {
	if f == types.AggCount || f == types.AggSum {
		return types.AggSum
	}
	return f
}

// defaultAlias is the user-visible output column name when no alias was
// given.
func defaultAlias(a types.AggExpr) string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Func == types.AggCount && a.Col == "*" {
		return "count_star"
	}
	return fmt.Sprintf("%s_%s", a.Func, safeIdent(a.Col))
}

// avgAlias names an avg output; its sum/count partial columns derive
// from it.
func avgAlias(a types.AggExpr) string {
	if a.Alias != "" {
		return a.Alias
	}
	return "avg_" + safeIdent(a.Col)
}

// partialAlias names the carried partial column for a non-avg aggregate.
func partialAlias(a types.AggExpr) string {
	if a.Func == types.AggCount && a.Col == "*" {
		return "count_star_partial"
	}
	if a.Alias != "" {
		return a.Alias + "_partial"
	}
	return fmt.Sprintf("%s_%s_partial", a.Func, safeIdent(a.Col))
}

type measure struct {
	f   types.AggFunc
	col string
}

// requiredMapMeasures is the deduplicated list of (func, col) measures
// the map level must emit. avg(x) expands into sum(x) and count(x); the
// reconstitution happens only at the final level to avoid the
// average-of-averages error.
func requiredMapMeasures(q *types.SelectQuery) []measure {
	seen := map[measure]bool{}
	var out []measure

	add := func(m measure) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}

	for _, a := range aggs(q) {
		if a.Func == types.AggAvg {
			add(measure{types.AggSum, a.Col})
			add(measure{types.AggCount, a.Col})
			continue
		}
		add(measure{a.Func, a.Col})
	}
	return out
}

// unionAllSelectStar reads every input file in one CTE body.
func unionAllSelectStar(inputs []string) string {
	parts := make([]string, len(inputs))
	for i, in := range inputs {
		parts[i] = fmt.Sprintf("SELECT * FROM '%s'", in)
	}
	return strings.Join(parts, " UNION ALL ")
}

// materialize wraps a SELECT into a single-statement COPY that writes
// the result as one parquet file, collapsed onto one line.
func materialize(selectSQL, outPath string) string {
	sql := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET);", selectSQL, outPath)
	return strings.Join(strings.Fields(sql), " ")
}
