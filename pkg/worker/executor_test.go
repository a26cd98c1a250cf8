package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/firnlabs/firn/pkg/catalog"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

// DDL paths never touch the engine, so a nil engine is fine here.
func newDDLExecutor() *Executor {
	return NewExecutor(nil)
}

func eventsSchema() []types.ColumnInfo {
	return []types.ColumnInfo{
		{Name: "a", Type: "int", Nullable: true},
		{Name: "b", Type: "varchar", Nullable: false},
	}
}

func createTask(dbPath string, ifNotExists bool) types.TaskRequest {
	return types.TaskRequest{
		Kind: types.TaskCreate,
		Create: &types.CreateRequest{
			DBPath:      dbPath,
			Table:       "t",
			TableSchema: eventsSchema(),
			IfNotExists: ifNotExists,
		},
	}
}

func TestCreateDropRoundTrip(t *testing.T) {
	exec := newDDLExecutor()
	dbPath := t.TempDir()
	ctx := context.Background()

	resp := exec.Execute(ctx, createTask(dbPath, false))
	require.True(t, resp.OK, resp.Error)
	assert.Contains(t, resp.Result, "Successfully created")

	// Catalog and manifest agree on the table id.
	db, err := catalog.Open(dbPath)
	require.NoError(t, err)
	require.True(t, db.Catalog.Has("t"))

	m, err := catalog.LoadManifest(db.ManifestPath("t"))
	require.NoError(t, err)
	assert.Equal(t, db.Catalog.Tables["t"].TableID, m.TableID)
	assert.Equal(t, "t", m.TableName)
	assert.Equal(t, eventsSchema(), m.Schema)
	assert.Empty(t, m.Shards)

	resp = exec.Execute(ctx, types.TaskRequest{
		Kind: types.TaskDrop,
		Drop: &types.DropRequest{DBPath: dbPath, Table: "t"},
	})
	require.True(t, resp.OK, resp.Error)

	// Neither the directory nor the catalog entry survive.
	db, err = catalog.Open(dbPath)
	require.NoError(t, err)
	assert.False(t, db.Catalog.Has("t"))
	_, err = os.Stat(filepath.Join(dbPath, "t"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateIdempotent(t *testing.T) {
	exec := newDDLExecutor()
	dbPath := t.TempDir()
	ctx := context.Background()

	require.True(t, exec.Execute(ctx, createTask(dbPath, false)).OK)

	// Without if not exists the duplicate is an error.
	resp := exec.Execute(ctx, createTask(dbPath, false))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "already exists")

	// With it the create degrades to a no-op confirmation.
	resp = exec.Execute(ctx, createTask(dbPath, true))
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Result, "already created")
}

func TestCreateRejectsUnknownType(t *testing.T) {
	exec := newDDLExecutor()

	resp := exec.Execute(context.Background(), types.TaskRequest{
		Kind: types.TaskCreate,
		Create: &types.CreateRequest{
			DBPath:      t.TempDir(),
			Table:       "t",
			TableSchema: []types.ColumnInfo{{Name: "a", Type: "jsonb", Nullable: true}},
		},
	})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown type")
}

func TestDropMissingTable(t *testing.T) {
	exec := newDDLExecutor()
	dbPath := t.TempDir()
	ctx := context.Background()

	resp := exec.Execute(ctx, types.TaskRequest{
		Kind: types.TaskDrop,
		Drop: &types.DropRequest{DBPath: dbPath, Table: "nope"},
	})
	assert.False(t, resp.OK)

	resp = exec.Execute(ctx, types.TaskRequest{
		Kind: types.TaskDrop,
		Drop: &types.DropRequest{DBPath: dbPath, Table: "nope", IfExists: true},
	})
	assert.True(t, resp.OK)
}

func TestExecuteMissingPayload(t *testing.T) {
	exec := newDDLExecutor()

	resp := exec.Execute(context.Background(), types.TaskRequest{Kind: types.TaskCreate})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "missing payload")

	resp = exec.Execute(context.Background(), types.TaskRequest{Kind: "vacuum"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unsupported task kind")
}

func TestSourceRelation(t *testing.T) {
	tests := []struct {
		src      string
		expected string
		wantErr  bool
	}{
		{src: "data/x.csv", expected: "read_csv_auto('data/x.csv')"},
		{src: "data/x.parquet", expected: "read_parquet('data/x.parquet')"},
		{src: "data/x.pq", expected: "read_parquet('data/x.pq')"},
		{src: "data/x.json", wantErr: true},
	}

	for _, tt := range tests {
		got, err := sourceRelation(tt.src)
		if tt.wantErr {
			assert.Error(t, err, tt.src)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
}

func TestCastProjection(t *testing.T) {
	got := castProjection(eventsSchema())
	assert.Equal(t, "CAST(a AS INTEGER) AS a, CAST(b AS VARCHAR) AS b", got)
}
