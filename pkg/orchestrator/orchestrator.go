package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firnlabs/firn/pkg/catalog"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/metrics"
	"github.com/firnlabs/firn/pkg/parser"
	"github.com/firnlabs/firn/pkg/planner"
	"github.com/firnlabs/firn/pkg/registry"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNoWorkers signals that no worker became live in time.
var ErrNoWorkers = errors.New("no active workers")

// OutputFileName is where a SELECT materialises its user-visible result
// inside the database directory.
const OutputFileName = "out.parquet"

const tmpDirName = "tmp"

// Orchestrator routes external queries: DDL and inserts pass through to
// a single worker, selects are compiled into a plan and driven level by
// level.
type Orchestrator struct {
	registry *registry.Registry
	client   *WorkerClient
	logger   zerolog.Logger

	waitTimeout  time.Duration
	pollInterval time.Duration
}

// New creates an orchestrator over a worker registry.
func New(reg *registry.Registry, client *WorkerClient, waitTimeout time.Duration) *Orchestrator {
	if waitTimeout <= 0 {
		waitTimeout = 60 * time.Second
	}
	return &Orchestrator{
		registry:     reg,
		client:       client,
		logger:       log.WithComponent("dispatcher"),
		waitTimeout:  waitTimeout,
		pollInterval: 500 * time.Millisecond,
	}
}

// execution records one dispatched plan statement for diagnostics.
type execution struct {
	Job       int
	Level     int
	WorkerID  string
	WorkerURL string
	OK        bool
	Result    string
	Error     string
}

func (e execution) String() string {
	return fmt.Sprintf("{job=%d level=%d worker=%s ok=%t error=%q}", e.Job, e.Level, e.WorkerID, e.OK, e.Error)
}

// RouteExternalQuery opens the database at dbPath, parses raw, and
// dispatches by statement kind.
func (o *Orchestrator) RouteExternalQuery(ctx context.Context, dbPath, raw string) types.ExternalQueryResponse {
	db, err := catalog.Open(dbPath)
	if err != nil {
		return fail(types.KindUnknown, err)
	}

	q, err := parser.Parse(raw)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(string(types.KindUnknown), "parse_error").Inc()
		return fail(types.KindUnknown, err)
	}

	var resp types.ExternalQueryResponse
	switch query := q.(type) {
	case *types.CreateQuery:
		resp = o.orchestrateCreate(ctx, query, db)
	case *types.DropQuery:
		resp = o.orchestrateDrop(ctx, query, db)
	case *types.InsertQuery:
		resp = o.orchestrateInsert(ctx, query, db)
	case *types.SelectQuery:
		resp = o.orchestrateSelect(ctx, query, db)
	default:
		return fail(types.KindUnknown, fmt.Errorf("unsupported query type %T", q))
	}

	outcome := "ok"
	if !resp.OK {
		outcome = "error"
	}
	metrics.QueriesTotal.WithLabelValues(string(resp.Kind), outcome).Inc()
	return resp
}

func (o *Orchestrator) orchestrateCreate(ctx context.Context, q *types.CreateQuery, db *catalog.DB) types.ExternalQueryResponse {
	o.logger.Info().Str("table", q.Table).Msg("Create request")
	task := types.TaskRequest{
		Kind: types.TaskCreate,
		Create: &types.CreateRequest{
			DBPath:      db.Path,
			Table:       q.Table,
			TableSchema: q.Schema,
			IfNotExists: q.IfNotExists,
		},
	}
	return o.passThrough(ctx, types.KindCreate, task)
}

func (o *Orchestrator) orchestrateDrop(ctx context.Context, q *types.DropQuery, db *catalog.DB) types.ExternalQueryResponse {
	o.logger.Info().Str("table", q.Table).Msg("Drop request")
	task := types.TaskRequest{
		Kind: types.TaskDrop,
		Drop: &types.DropRequest{
			DBPath:   db.Path,
			Table:    q.Table,
			IfExists: q.IfExists,
		},
	}
	return o.passThrough(ctx, types.KindDrop, task)
}

func (o *Orchestrator) orchestrateInsert(ctx context.Context, q *types.InsertQuery, db *catalog.DB) types.ExternalQueryResponse {
	o.logger.Info().Str("table", q.Table).Str("src", q.SrcPath).Msg("Insert request")
	task := types.TaskRequest{
		Kind: types.TaskInsert,
		Insert: &types.InsertRequest{
			DBPath:       db.Path,
			Table:        q.Table,
			SrcPath:      q.SrcPath,
			RowsPerShard: q.RowsPerShard,
		},
	}
	return o.passThrough(ctx, types.KindInsert, task)
}

// passThrough sends a DDL or insert task to the first active worker.
func (o *Orchestrator) passThrough(ctx context.Context, kind types.QueryKind, task types.TaskRequest) types.ExternalQueryResponse {
	workers := o.registry.ListActive()
	if len(workers) == 0 {
		return types.ExternalQueryResponse{OK: false, Kind: kind, Error: "No active workers"}
	}

	chosen := workers[0]
	resp := o.client.Execute(ctx, chosen.BaseURL, task)

	return types.ExternalQueryResponse{
		OK:        resp.OK,
		Kind:      kind,
		WorkerID:  chosen.WorkerID,
		WorkerURL: chosen.BaseURL,
		Result:    resp.Result,
		Error:     resp.Error,
	}
}

func (o *Orchestrator) orchestrateSelect(ctx context.Context, q *types.SelectQuery, db *catalog.DB) types.ExternalQueryResponse {
	o.logger.Info().Str("table", q.Table).Msg("Select request")

	manifest, err := catalog.LoadManifest(db.ManifestPath(q.Table))
	if err != nil {
		return fail(types.KindSelect, err)
	}
	if len(manifest.Shards) == 0 {
		return types.ExternalQueryResponse{
			OK:    false,
			Kind:  types.KindSelect,
			Error: fmt.Sprintf("No shards found for table %s", q.Table),
		}
	}

	tmpDir := filepath.Join(db.Path, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fail(types.KindSelect, err)
	}
	outPath := filepath.Join(db.Path, OutputFileName)

	plan, err := planner.Build(q, manifest.Shards, db.Path, tmpDir, outPath)
	if err != nil {
		return fail(types.KindSelect, err)
	}

	o.logger.Info().
		Int("levels", len(plan.Levels)).
		Int("statements", plan.NumStatements()).
		Int("fanout", plan.Fanout).
		Msg("Compiled plan")
	metrics.PlanLevels.Observe(float64(len(plan.Levels)))

	if err := o.executePlan(ctx, db, plan); err != nil {
		return fail(types.KindSelect, err)
	}

	if err := os.RemoveAll(tmpDir); err != nil {
		o.logger.Warn().Err(err).Str("dir", tmpDir).Msg("Failed to clean temp outputs")
	}

	return types.ExternalQueryResponse{
		OK:     true,
		Kind:   types.KindSelect,
		Result: fmt.Sprintf("Successfully executed select, result in %s", outPath),
	}
}

// executePlan drives plan levels in order, statements within a level in
// order. Statement N+1 starts only after statement N's RPC returned ok,
// so a level is fully materialised before the next one reads it.
func (o *Orchestrator) executePlan(ctx context.Context, db *catalog.DB, plan *planner.Plan) error {
	var executions []execution
	job := 0
	waitStart := time.Now()

	for levelIdx, level := range plan.Levels {
		stage := stageName(levelIdx, len(plan.Levels))

		for _, stmt := range level {
			worker, err := o.awaitWorker(ctx, waitStart)
			if err != nil {
				return fmt.Errorf("%w\nExecutions: %v", err, executions)
			}

			timer := metrics.NewTimer()
			resp := o.client.Execute(ctx, worker.BaseURL, types.TaskRequest{
				Kind: types.TaskSelect,
				Select: &types.SelectRequest{
					DBPath:   db.Path,
					RawQuery: stmt.SQL,
				},
			})
			timer.ObserveDurationVec(metrics.StatementDuration, stage)
			metrics.PlanStatementsTotal.Inc()

			rec := execution{
				Job:       job,
				Level:     levelIdx,
				WorkerID:  worker.WorkerID,
				WorkerURL: worker.BaseURL,
				OK:        resp.OK,
				Result:    resp.Result,
				Error:     resp.Error,
			}
			executions = append(executions, rec)
			job++

			if !resp.OK {
				return fmt.Errorf("execution failed at level %d\nFailed step: %v\nExecutions: %v",
					levelIdx, rec, executions)
			}
		}

		o.logger.Info().Int("level", levelIdx).Int("statements", len(level)).Msg("Completed level")
	}

	return nil
}

// awaitWorker blocks until a live worker exists, polling the registry.
// The timeout covers the whole query, not one wait: waitStart is the
// instant dispatch began.
func (o *Orchestrator) awaitWorker(ctx context.Context, waitStart time.Time) (types.WorkerInfo, error) {
	for {
		if w, ok := o.registry.ChooseWorker(); ok {
			return w, nil
		}

		o.logger.Warn().Msg("No active workers; waiting")

		if time.Since(waitStart) > o.waitTimeout {
			return types.WorkerInfo{}, fmt.Errorf("%w: none became available before timeout", ErrNoWorkers)
		}

		select {
		case <-ctx.Done():
			return types.WorkerInfo{}, ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
}

func stageName(levelIdx, numLevels int) string {
	switch {
	case levelIdx == 0:
		return "map"
	case levelIdx == numLevels-1:
		return "final"
	default:
		return "reduce"
	}
}

func fail(kind types.QueryKind, err error) types.ExternalQueryResponse {
	return types.ExternalQueryResponse{OK: false, Kind: kind, Error: err.Error()}
}
