package datagen

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/firnlabs/firn/pkg/parser"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/firnlabs/firn/pkg/worker"
	"gopkg.in/yaml.v3"
)

// Config drives a synthetic-data run: how many shards to fill, how big
// each one is, where the database lives, and the DDL of the table to
// fill.
type Config struct {
	RowsPerShard int    `yaml:"rows_per_shard"`
	NumShards    int    `yaml:"num_shards"`
	DBPath       string `yaml:"db_path"`
	CreateDDL    string `yaml:"create_ddl"`
}

// LoadConfig reads a YAML generator configuration.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read generator config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse generator config %s: %w", path, err)
	}
	if cfg.RowsPerShard <= 0 || cfg.NumShards <= 0 {
		return Config{}, fmt.Errorf("rows_per_shard and num_shards must be positive")
	}
	if cfg.DBPath == "" || cfg.CreateDDL == "" {
		return Config{}, fmt.Errorf("db_path and create_ddl are required")
	}
	return cfg, nil
}

// Run creates the table from the configured DDL and fills it with
// synthetic rows through the worker's real create and insert paths, so
// generated data passes the same validation as user data.
func Run(ctx context.Context, cfg Config, exec *worker.Executor) error {
	q, err := parser.Parse(cfg.CreateDDL)
	if err != nil {
		return err
	}
	create, ok := q.(*types.CreateQuery)
	if !ok {
		return fmt.Errorf("create_ddl must be a CREATE TABLE statement, got %s", q.Kind())
	}

	resp := exec.Execute(ctx, types.TaskRequest{
		Kind: types.TaskCreate,
		Create: &types.CreateRequest{
			DBPath:      cfg.DBPath,
			Table:       create.Table,
			TableSchema: create.Schema,
			IfNotExists: true,
		},
	})
	if !resp.OK {
		return fmt.Errorf("failed to create table: %s", resp.Error)
	}

	srcPath, err := writeCSV(cfg, create.Schema)
	if err != nil {
		return err
	}
	defer os.Remove(srcPath)

	resp = exec.Execute(ctx, types.TaskRequest{
		Kind: types.TaskInsert,
		Insert: &types.InsertRequest{
			DBPath:       cfg.DBPath,
			Table:        create.Table,
			SrcPath:      srcPath,
			RowsPerShard: cfg.RowsPerShard,
		},
	})
	if !resp.OK {
		return fmt.Errorf("failed to insert generated rows: %s", resp.Error)
	}
	return nil
}

// writeCSV renders the synthetic rows to a temp CSV file.
func writeCSV(cfg Config, schema []types.ColumnInfo) (string, error) {
	f, err := os.CreateTemp("", "firn-gen-*.csv")
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := make([]string, len(schema))
	for i, col := range schema {
		header[i] = col.Name
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	total := cfg.RowsPerShard * cfg.NumShards
	row := make([]string, len(schema))
	for i := 0; i < total; i++ {
		for j, col := range schema {
			row[j] = syntheticValue(col)
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return filepath.Abs(f.Name())
}

// syntheticValue renders one random value for a column, keyed on the
// schema type.
func syntheticValue(col types.ColumnInfo) string {
	switch col.Type {
	case "tinyint", "smallint", "int", "integer", "bigint":
		return strconv.Itoa(rand.Intn(100))
	case "float", "real", "double", "decimal":
		return strconv.FormatFloat(float64(rand.Intn(10000))/100, 'f', 2, 64)
	case "bool", "boolean":
		return strconv.FormatBool(rand.Intn(2) == 0)
	case "date":
		return time.Now().UTC().Format("2006-01-02")
	case "time":
		return time.Now().UTC().Format("15:04:05")
	case "timestamp", "datetime":
		return time.Now().UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%s_%d", col.Name, rand.Intn(10_000))
	}
}
