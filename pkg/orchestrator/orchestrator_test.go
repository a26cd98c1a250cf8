package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/firnlabs/firn/pkg/catalog"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/registry"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

// fakeWorker records received tasks and answers with a fixed response.
type fakeWorker struct {
	mu    sync.Mutex
	tasks []types.TaskRequest
	srv   *httptest.Server
}

func newFakeWorker(t *testing.T, respond func(types.TaskRequest) types.TaskResponse) *fakeWorker {
	f := &fakeWorker{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tasks/execute", r.URL.Path)

		var task types.TaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&task))

		f.mu.Lock()
		f.tasks = append(f.tasks, task)
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(respond(task))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeWorker) received() []types.TaskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TaskRequest(nil), f.tasks...)
}

func newTestOrchestrator(reg *registry.Registry) *Orchestrator {
	o := New(reg, NewWorkerClient(5*time.Second), 2*time.Second)
	o.pollInterval = 20 * time.Millisecond
	return o
}

func okResponse(types.TaskRequest) types.TaskResponse {
	return types.TaskResponse{OK: true, Result: "done"}
}

func TestRouteParseError(t *testing.T) {
	o := newTestOrchestrator(registry.New(0))

	resp := o.RouteExternalQuery(context.Background(), t.TempDir(), "UPDATE t SET a = 1")
	assert.False(t, resp.OK)
	assert.Equal(t, types.KindUnknown, resp.Kind)
	assert.NotEmpty(t, resp.Error)
}

func TestRouteCreateNoWorkers(t *testing.T) {
	o := newTestOrchestrator(registry.New(0))

	resp := o.RouteExternalQuery(context.Background(), t.TempDir(), "create table t(a int)")
	assert.False(t, resp.OK)
	assert.Equal(t, types.KindCreate, resp.Kind)
	assert.Equal(t, "No active workers", resp.Error)
}

func TestRouteCreatePassThrough(t *testing.T) {
	worker := newFakeWorker(t, okResponse)

	reg := registry.New(0)
	reg.Upsert("w1", worker.srv.URL, 0)
	o := newTestOrchestrator(reg)

	dbPath := t.TempDir()
	resp := o.RouteExternalQuery(context.Background(), dbPath, "create table t(a int, b varchar) if not exists")
	require.True(t, resp.OK, resp.Error)
	assert.Equal(t, types.KindCreate, resp.Kind)
	assert.Equal(t, "w1", resp.WorkerID)

	tasks := worker.received()
	require.Len(t, tasks, 1)
	assert.Equal(t, types.TaskCreate, tasks[0].Kind)
	require.NotNil(t, tasks[0].Create)
	assert.Equal(t, dbPath, tasks[0].Create.DBPath)
	assert.Equal(t, "t", tasks[0].Create.Table)
	assert.True(t, tasks[0].Create.IfNotExists)
	assert.Len(t, tasks[0].Create.TableSchema, 2)
}

func TestRouteSelectNoShards(t *testing.T) {
	worker := newFakeWorker(t, okResponse)

	reg := registry.New(0)
	reg.Upsert("w1", worker.srv.URL, 0)
	o := newTestOrchestrator(reg)

	// Table exists but has no shards yet.
	dbPath := t.TempDir()
	db, err := catalog.Open(dbPath)
	require.NoError(t, err)
	m := catalog.NewManifest("events", []types.ColumnInfo{{Name: "value", Type: "double", Nullable: true}})
	require.NoError(t, os.MkdirAll(db.TablePath("events"), 0o755))
	require.NoError(t, m.Save(db.ManifestPath("events")))

	resp := o.RouteExternalQuery(context.Background(), dbPath, "select count(*) from events")
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "No shards found")
}

func setupShardedTable(t *testing.T, dbPath string, numShards int) {
	db, err := catalog.Open(dbPath)
	require.NoError(t, err)

	m := catalog.NewManifest("events", []types.ColumnInfo{{Name: "value", Type: "double", Nullable: true}})
	for i := 0; i < numShards; i++ {
		m.Shards = append(m.Shards, catalog.ShardFileName(i))
	}
	require.NoError(t, os.MkdirAll(db.TablePath("events"), 0o755))
	require.NoError(t, m.Save(db.ManifestPath("events")))
	require.NoError(t, db.Catalog.CreateTable("events", m.TableID))
	require.NoError(t, db.Catalog.Save(db.CatalogPath))
}

func TestRouteSelectExecutesPlanInOrder(t *testing.T) {
	worker := newFakeWorker(t, okResponse)

	reg := registry.New(0)
	reg.Upsert("w1", worker.srv.URL, 0)
	o := newTestOrchestrator(reg)

	dbPath := t.TempDir()
	setupShardedTable(t, dbPath, 3)

	resp := o.RouteExternalQuery(context.Background(), dbPath, "select count(*) from events")
	require.True(t, resp.OK, resp.Error)
	assert.Contains(t, resp.Result, OutputFileName)

	// 3 map statements then 1 final, all select tasks, in order.
	tasks := worker.received()
	require.Len(t, tasks, 4)
	for i, task := range tasks {
		assert.Equal(t, types.TaskSelect, task.Kind)
		require.NotNil(t, task.Select)
		if i < 3 {
			assert.Contains(t, task.Select.RawQuery, catalog.ShardFileName(i))
		} else {
			assert.Contains(t, task.Select.RawQuery, OutputFileName)
		}
	}

	// Temp outputs are cleaned up after success.
	_, err := os.Stat(filepath.Join(dbPath, "tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestRouteSelectStatementFailureAborts(t *testing.T) {
	calls := 0
	worker := newFakeWorker(t, func(types.TaskRequest) types.TaskResponse {
		calls++
		if calls == 2 {
			return types.TaskResponse{OK: false, Error: "disk full"}
		}
		return types.TaskResponse{OK: true}
	})

	reg := registry.New(0)
	reg.Upsert("w1", worker.srv.URL, 0)
	o := newTestOrchestrator(reg)

	dbPath := t.TempDir()
	setupShardedTable(t, dbPath, 3)

	resp := o.RouteExternalQuery(context.Background(), dbPath, "select count(*) from events")
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "disk full")
	assert.Contains(t, resp.Error, "level 0")

	// Nothing past the failing statement was dispatched.
	assert.Len(t, worker.received(), 2)
}

func TestSelectWaitsForWorker(t *testing.T) {
	worker := newFakeWorker(t, okResponse)

	reg := registry.New(0)
	o := newTestOrchestrator(reg)

	dbPath := t.TempDir()
	setupShardedTable(t, dbPath, 1)

	// Register the worker shortly after dispatch starts; the blocking
	// wait should pick it up and let the query finish.
	go func() {
		time.Sleep(100 * time.Millisecond)
		reg.Upsert("w1", worker.srv.URL, 0)
	}()

	resp := o.RouteExternalQuery(context.Background(), dbPath, "select count(*) from events")
	assert.True(t, resp.OK, resp.Error)
}

func TestSelectWaitTimeout(t *testing.T) {
	reg := registry.New(0)
	o := newTestOrchestrator(reg)
	o.waitTimeout = 150 * time.Millisecond

	dbPath := t.TempDir()
	setupShardedTable(t, dbPath, 1)

	start := time.Now()
	resp := o.RouteExternalQuery(context.Background(), dbPath, "select count(*) from events")
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "no active workers")
	assert.Less(t, time.Since(start), 2*time.Second)
}
