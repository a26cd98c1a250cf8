package planner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/firnlabs/firn/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsQuery() *types.SelectQuery {
	return &types.SelectQuery{
		Table: "events",
		Select: []types.SelectItem{
			types.ColumnRef{Name: "event_type"},
			types.AggExpr{Func: types.AggCount, Col: "*"},
			types.AggExpr{Func: types.AggAvg, Col: "value", Alias: "avg_value"},
		},
		Where: []types.PredicateTerm{
			{Col: "value", Op: ">=", Value: int64(0)},
			{Col: "user_id", Op: "is_not_null"},
		},
		GroupBy: []string{"event_type"},
	}
}

func shardNames(n int) []string {
	shards := make([]string, n)
	for i := range shards {
		shards[i] = fmt.Sprintf("shard-%d.parquet", i)
	}
	return shards
}

func TestFanoutClamp(t *testing.T) {
	tests := []struct {
		rowsPerInput int
		expected     int
	}{
		{1, 256},
		{10, 256},
		{100_000, 128},
		{1_000_000, 16},
		{4_000_000, 4},
		{8_000_000, 2},
		{16_000_000, 2},
		{100_000_000, 2},
		{0, 256},
	}

	for _, tt := range tests {
		k := Fanout(tt.rowsPerInput)
		assert.Equal(t, tt.expected, k, "rowsPerInput=%d", tt.rowsPerInput)

		// Always a power of two within the clamp.
		assert.GreaterOrEqual(t, k, 2)
		assert.LessOrEqual(t, k, 256)
		assert.Zero(t, k&(k-1), "fanout must be a power of two")
	}
}

func TestBuildPlanShapeSmall(t *testing.T) {
	// 10 shards fit under the fanout: map level plus final, no
	// intermediate reduction.
	plan, err := Build(eventsQuery(), shardNames(10), "db", "db/tmp", "db/out.parquet")
	require.NoError(t, err)

	require.Len(t, plan.Levels, 2)
	assert.Len(t, plan.Levels[0], 10)
	assert.Len(t, plan.Levels[1], 1)
	assert.Equal(t, 256, plan.Fanout)

	// The final statement reads map measures directly.
	final := plan.Levels[1][0].SQL
	assert.Contains(t, final, "sum(s_value) / nullif(sum(c_value), 0) AS avg_value")
	assert.Contains(t, final, "sum(c_star) AS count_star")
}

func TestBuildPlanShapeDeep(t *testing.T) {
	// 600 shards with fanout 256: 600 maps, 3 intermediate reduces,
	// one final.
	plan, err := Build(eventsQuery(), shardNames(600), "db", "db/tmp", "db/out.parquet")
	require.NoError(t, err)

	require.Len(t, plan.Levels, 3)
	assert.Len(t, plan.Levels[0], 600)
	assert.Len(t, plan.Levels[1], 3)
	assert.Len(t, plan.Levels[2], 1)

	// Intermediate reads map aliases, final reads partial columns.
	assert.Contains(t, plan.Levels[1][0].SQL, "sum(c_value) AS avg_value_count_partial")
	assert.Contains(t, plan.Levels[2][0].SQL, "sum(avg_value_sum_partial) / nullif(sum(avg_value_count_partial), 0) AS avg_value")
}

func TestPlanLevelIndependence(t *testing.T) {
	plan, err := Build(eventsQuery(), shardNames(600), "db", "db/tmp", "db/out.parquet")
	require.NoError(t, err)

	for levelIdx, level := range plan.Levels {
		// No statement reads an output produced at its own level.
		outputs := map[string]bool{}
		for _, st := range level {
			outputs[st.OutPath] = true
		}
		for _, st := range level {
			for out := range outputs {
				if out == st.OutPath {
					continue
				}
				assert.NotContains(t, st.SQL[:strings.Index(st.SQL, "TO ")], out,
					"level %d statement reads a sibling output", levelIdx)
			}
		}

		// Every non-map statement reads only the previous level's outputs.
		if levelIdx == 0 {
			continue
		}
		prev := map[string]bool{}
		for _, st := range plan.Levels[levelIdx-1] {
			prev[st.OutPath] = true
		}
		for _, st := range level {
			for _, in := range readPaths(st.SQL) {
				assert.True(t, prev[in], "level %d reads %s which is not a level %d output", levelIdx, in, levelIdx-1)
			}
		}
	}
}

// readPaths extracts the FROM '<path>' sources of a statement.
func readPaths(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, "FROM '")[1:] {
		end := strings.Index(part, "'")
		out = append(out, part[:end])
	}
	return out
}

func TestMapStatement(t *testing.T) {
	st, err := MapStatement(eventsQuery(), "shard-0.parquet", "db", "db/tmp")
	require.NoError(t, err)

	assert.Equal(t, "db/tmp/map__events__shard_0_parquet.parquet", st.OutPath)
	assert.True(t, strings.HasPrefix(st.SQL, "COPY (SELECT "))
	assert.True(t, strings.HasSuffix(st.SQL, fmt.Sprintf("TO '%s' (FORMAT PARQUET);", st.OutPath)))

	assert.Contains(t, st.SQL, "FROM 'db/events/shard-0.parquet'")
	assert.Contains(t, st.SQL, "count(*) AS c_star")
	// avg decomposes into sum and count at the map level.
	assert.Contains(t, st.SQL, "sum(value) AS s_value")
	assert.Contains(t, st.SQL, "count(value) AS c_value")
	assert.Contains(t, st.SQL, "WHERE value >= 0 AND user_id is not null")
	assert.Contains(t, st.SQL, "GROUP BY event_type")
}

func TestMapStatementDedupsMeasures(t *testing.T) {
	q := &types.SelectQuery{
		Table: "t",
		Select: []types.SelectItem{
			types.AggExpr{Func: types.AggSum, Col: "v", Alias: "total"},
			types.AggExpr{Func: types.AggAvg, Col: "v", Alias: "mean"},
		},
	}

	st, err := MapStatement(q, "shard-0.parquet", "db", "tmp")
	require.NoError(t, err)

	// sum(v) appears once even though both aggregates need it.
	assert.Equal(t, 1, strings.Count(st.SQL, "sum(v) AS s_v"))
	assert.Contains(t, st.SQL, "count(v) AS c_v")
}

func TestFinalStatementSharedSumPartial(t *testing.T) {
	q := &types.SelectQuery{
		Table: "t",
		Select: []types.SelectItem{
			types.AggExpr{Func: types.AggSum, Col: "v", Alias: "total"},
			types.AggExpr{Func: types.AggAvg, Col: "v", Alias: "mean"},
		},
	}

	st, err := FinalStatement(q, []string{"tmp/r0.parquet"}, "out.parquet", InputsInterm)
	require.NoError(t, err)

	// avg reuses the explicit sum's partial instead of a private one.
	assert.Contains(t, st.SQL, "sum(total_partial) AS total")
	assert.Contains(t, st.SQL, "sum(total_partial) / nullif(sum(mean_count_partial), 0) AS mean")
	assert.NotContains(t, st.SQL, "mean_sum_partial")
}

func TestIntermediateIdempotentNaming(t *testing.T) {
	q := eventsQuery()

	first, err := IntermediateStatement(q, []string{"a.parquet"}, "tmp", "r0_0", InputsMap)
	require.NoError(t, err)
	second, err := IntermediateStatement(q, []string{"b.parquet"}, "tmp", "r1_0", InputsInterm)
	require.NoError(t, err)

	// The second level consumes exactly the names the first level
	// produced, and emits them again unchanged.
	assert.Contains(t, first.SQL, "AS count_star_partial")
	assert.Contains(t, second.SQL, "sum(count_star_partial) AS count_star_partial")
	assert.Contains(t, first.SQL, "AS avg_value_count_partial")
	assert.Contains(t, second.SQL, "sum(avg_value_count_partial) AS avg_value_count_partial")
}

func TestPureProjectionPlan(t *testing.T) {
	q := &types.SelectQuery{
		Table:  "t",
		Select: []types.SelectItem{types.ColumnRef{Name: "a"}},
		Where:  []types.PredicateTerm{{Col: "a", Op: "is_not_null"}},
	}

	plan, err := Build(q, shardNames(3), "db", "tmp", "out.parquet")
	require.NoError(t, err)

	mapSQL := plan.Levels[0][0].SQL
	assert.Contains(t, mapSQL, "SELECT a FROM")
	assert.Contains(t, mapSQL, "WHERE a is not null")
	assert.NotContains(t, mapSQL, "GROUP BY")

	finalSQL := plan.Levels[1][0].SQL
	assert.Contains(t, finalSQL, "SELECT * FROM partial")
}

func TestPureProjectionGroupByIsDistinct(t *testing.T) {
	q := &types.SelectQuery{
		Table:   "t",
		Select:  []types.SelectItem{types.ColumnRef{Name: "a"}},
		GroupBy: []string{"a"},
	}

	plan, err := Build(q, shardNames(3), "db", "tmp", "out.parquet")
	require.NoError(t, err)

	finalSQL := plan.Levels[1][0].SQL
	assert.Contains(t, finalSQL, "SELECT a FROM partial GROUP BY a")
}

func TestRenderPredicate(t *testing.T) {
	tests := []struct {
		name     string
		pred     types.PredicateTerm
		expected string
	}{
		{"int", types.PredicateTerm{Col: "v", Op: ">=", Value: int64(0)}, "v >= 0"},
		{"float", types.PredicateTerm{Col: "v", Op: "<", Value: 1.5}, "v < 1.5"},
		{"string gets quoted", types.PredicateTerm{Col: "c", Op: "=", Value: "x"}, "c = 'x'"},
		{"quoted string kept", types.PredicateTerm{Col: "c", Op: "=", Value: "'x'"}, "c = 'x'"},
		{"null test", types.PredicateTerm{Col: "c", Op: "is_null"}, "c is null"},
		{"not null test", types.PredicateTerm{Col: "c", Op: "is_not_null"}, "c is not null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderPredicate(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderPredicateMissingValue(t *testing.T) {
	_, err := renderPredicate(types.PredicateTerm{Col: "v", Op: ">="})
	assert.Error(t, err)
}

func TestImplicitGroupBy(t *testing.T) {
	// Raw columns mixed with aggregates group implicitly.
	q := &types.SelectQuery{
		Table: "t",
		Select: []types.SelectItem{
			types.ColumnRef{Name: "a"},
			types.AggExpr{Func: types.AggCount, Col: "*"},
		},
	}

	st, err := MapStatement(q, "shard-0.parquet", "db", "tmp")
	require.NoError(t, err)
	assert.Contains(t, st.SQL, "GROUP BY a")
}
