package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/firnlabs/firn/pkg/catalog"
	"github.com/firnlabs/firn/pkg/metrics"
	"github.com/firnlabs/firn/pkg/types"
)

// sourceRelation returns the engine expression reading the insert
// source. Only CSV and parquet sources are accepted.
func sourceRelation(srcPath string) (string, error) {
	switch {
	case strings.HasSuffix(srcPath, ".csv"):
		return fmt.Sprintf("read_csv_auto('%s')", srcPath), nil
	case strings.HasSuffix(srcPath, ".parquet"), strings.HasSuffix(srcPath, ".pq"):
		return fmt.Sprintf("read_parquet('%s')", srcPath), nil
	}
	return "", fmt.Errorf("unsupported source file %q: expected .csv, .parquet or .pq", srcPath)
}

// insert loads a source file into a table: validate against the
// manifest schema, cut the rows into shards of rows_per_shard, write
// each shard under a temp name, then rename into place and append to
// the manifest. The manifest is persisted last.
func (e *Executor) insert(ctx context.Context, req *types.InsertRequest) (string, error) {
	db, err := catalog.Open(req.DBPath)
	if err != nil {
		return "", err
	}

	tablePath := db.TablePath(req.Table)
	if _, err := os.Stat(tablePath); os.IsNotExist(err) {
		return "", fmt.Errorf("table %q: %w", req.Table, catalog.ErrTableNotFound)
	}

	manifest, err := catalog.LoadManifest(db.ManifestPath(req.Table))
	if err != nil {
		return "", err
	}

	src, err := sourceRelation(req.SrcPath)
	if err != nil {
		return "", err
	}

	if err := e.validateSource(ctx, src, manifest); err != nil {
		return "", err
	}

	total, err := e.engine.QueryIntScalar(ctx, fmt.Sprintf("SELECT count(*) FROM %s", src))
	if err != nil {
		return "", err
	}
	if total == 0 {
		return fmt.Sprintf("No rows to insert into table '%s'", req.Table), nil
	}

	rowsPerShard := manifest.RowsPerShard
	if req.RowsPerShard > 0 {
		rowsPerShard = req.RowsPerShard
	}

	projection := castProjection(manifest.Schema)
	numShards := int((total + int64(rowsPerShard) - 1) / int64(rowsPerShard))

	// Write every shard under a temp name first; only after all writes
	// succeed do the renames publish them.
	tmpNames := make([]string, 0, numShards)
	for i := 0; i < numShards; i++ {
		tmpName := fmt.Sprintf("tmp_shard-%d.parquet", i)
		out := filepath.Join(tablePath, tmpName)
		copySQL := fmt.Sprintf(
			"COPY (SELECT %s FROM %s LIMIT %d OFFSET %d) TO '%s' (FORMAT PARQUET)",
			projection, src, rowsPerShard, i*rowsPerShard, out,
		)
		if err := e.engine.Execute(ctx, copySQL); err != nil {
			removeAll(tablePath, tmpNames)
			return "", fmt.Errorf("failed to write shard %d: %w", i, err)
		}
		tmpNames = append(tmpNames, tmpName)
	}

	lastShard := catalog.NextShardIndex(manifest.Shards)
	for i, tmpName := range tmpNames {
		shardName := catalog.ShardFileName(lastShard + i)
		if err := os.Rename(filepath.Join(tablePath, tmpName), filepath.Join(tablePath, shardName)); err != nil {
			return "", fmt.Errorf("failed to publish shard %s: %w", shardName, err)
		}
		manifest.Shards = append(manifest.Shards, shardName)
	}

	if err := manifest.Save(db.ManifestPath(req.Table)); err != nil {
		return "", err
	}

	metrics.ShardsWrittenTotal.Add(float64(numShards))
	metrics.InsertRowsTotal.Add(float64(total))
	e.logger.Info().
		Str("table", req.Table).
		Int64("rows", total).
		Int("shards", numShards).
		Msg("Inserted data")

	return fmt.Sprintf("Successfully inserted data into table '%s'", req.Table), nil
}

// validateSource checks the source against the manifest schema: the
// column sets must match exactly, non-nullable columns must carry no
// nulls, and every value must survive a safe cast to the canonical
// physical type.
func (e *Executor) validateSource(ctx context.Context, src string, manifest *catalog.Manifest) error {
	srcCols, err := e.engine.QueryStrings(ctx,
		fmt.Sprintf("SELECT column_name FROM (DESCRIBE SELECT * FROM %s)", src))
	if err != nil {
		return fmt.Errorf("failed to describe source: %w", err)
	}

	have := make(map[string]bool, len(srcCols))
	for _, c := range srcCols {
		have[c] = true
	}
	want := make(map[string]bool, len(manifest.Schema))
	for _, col := range manifest.Schema {
		want[col.Name] = true
		if !have[col.Name] {
			return fmt.Errorf("source is missing column %q", col.Name)
		}
	}
	for _, c := range srcCols {
		if !want[c] {
			return fmt.Errorf("source has extra column %q not in table schema", c)
		}
	}

	for _, col := range manifest.Schema {
		if !col.Nullable {
			nulls, err := e.engine.QueryIntScalar(ctx,
				fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL", src, col.Name))
			if err != nil {
				return err
			}
			if nulls > 0 {
				return fmt.Errorf("column %q is not nullable but source has %d null values", col.Name, nulls)
			}
		}

		physical, ok := types.CanonicalType(col.Type)
		if !ok {
			return fmt.Errorf("column %q: unknown type %q", col.Name, col.Type)
		}
		bad, err := e.engine.QueryIntScalar(ctx, fmt.Sprintf(
			"SELECT count(*) FROM %s WHERE %s IS NOT NULL AND TRY_CAST(%s AS %s) IS NULL",
			src, col.Name, col.Name, physical))
		if err != nil {
			return err
		}
		if bad > 0 {
			return fmt.Errorf("column %q: %d values cannot be safely cast to %s", col.Name, bad, physical)
		}
	}

	return nil
}

// castProjection selects every schema column cast to its canonical
// physical type, in manifest order.
func castProjection(schema []types.ColumnInfo) string {
	parts := make([]string, len(schema))
	for i, col := range schema {
		physical, _ := types.CanonicalType(col.Type)
		parts[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", col.Name, physical, col.Name)
	}
	return strings.Join(parts, ", ")
}

func removeAll(dir string, names []string) {
	for _, n := range names {
		_ = os.Remove(filepath.Join(dir, n))
	}
}
