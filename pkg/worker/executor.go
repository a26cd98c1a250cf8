package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/firnlabs/firn/pkg/catalog"
	"github.com/firnlabs/firn/pkg/engine"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/rs/zerolog"
)

// Executor applies task requests to the local filesystem and the
// embedded engine. DDL and inserts mutate catalog and manifest; selects
// are forwarded to the engine unmodified.
type Executor struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// NewExecutor creates an executor over an open engine.
func NewExecutor(eng *engine.Engine) *Executor {
	return &Executor{
		engine: eng,
		logger: log.WithComponent("executor"),
	}
}

// Execute dispatches one tagged task. Failures are folded into the
// response envelope; the RPC layer never returns HTTP errors for them.
func (e *Executor) Execute(ctx context.Context, task types.TaskRequest) types.TaskResponse {
	var (
		result string
		err    error
	)

	switch task.Kind {
	case types.TaskCreate:
		if task.Create == nil {
			err = fmt.Errorf("create task missing payload")
			break
		}
		result, err = e.create(ctx, task.Create)
	case types.TaskDrop:
		if task.Drop == nil {
			err = fmt.Errorf("drop task missing payload")
			break
		}
		result, err = e.drop(ctx, task.Drop)
	case types.TaskInsert:
		if task.Insert == nil {
			err = fmt.Errorf("insert task missing payload")
			break
		}
		result, err = e.insert(ctx, task.Insert)
	case types.TaskSelect:
		if task.Select == nil {
			err = fmt.Errorf("select task missing payload")
			break
		}
		result, err = e.sel(ctx, task.Select)
	default:
		err = fmt.Errorf("unsupported task kind %q", task.Kind)
	}

	if err != nil {
		e.logger.Error().Err(err).Str("kind", string(task.Kind)).Msg("Task failed")
		return types.TaskResponse{OK: false, Error: err.Error()}
	}
	return types.TaskResponse{OK: true, Result: result}
}

// create builds the table directory and manifest, then names the table
// in the catalog. The manifest hits disk before the catalog entry, so a
// catalog reference never points at a missing manifest.
func (e *Executor) create(ctx context.Context, req *types.CreateRequest) (string, error) {
	db, err := catalog.Open(req.DBPath)
	if err != nil {
		return "", err
	}

	if db.Catalog.Has(req.Table) {
		if req.IfNotExists {
			return fmt.Sprintf("Table '%s' already created", req.Table), nil
		}
		return "", fmt.Errorf("table %q: %w", req.Table, catalog.ErrTableExists)
	}

	for _, col := range req.TableSchema {
		if _, ok := types.CanonicalType(col.Type); !ok {
			return "", fmt.Errorf("column %q: unknown type %q", col.Name, col.Type)
		}
	}

	if err := os.MkdirAll(db.TablePath(req.Table), 0o755); err != nil {
		return "", fmt.Errorf("failed to create table directory: %w", err)
	}

	manifest := catalog.NewManifest(req.Table, req.TableSchema)
	if err := manifest.Save(db.ManifestPath(req.Table)); err != nil {
		return "", err
	}

	if err := db.Catalog.CreateTable(req.Table, manifest.TableID); err != nil {
		return "", err
	}
	if err := db.Catalog.Save(db.CatalogPath); err != nil {
		return "", err
	}

	e.logger.Info().Str("table", req.Table).Str("table_id", manifest.TableID).Msg("Created table")
	return fmt.Sprintf("Successfully created table '%s'", req.Table), nil
}

// drop removes the catalog entry, deletes the directory, and persists
// the catalog last so the on-disk reference disappears atomically from
// the caller's perspective.
func (e *Executor) drop(ctx context.Context, req *types.DropRequest) (string, error) {
	db, err := catalog.Open(req.DBPath)
	if err != nil {
		return "", err
	}

	if err := db.Catalog.DropTable(req.Table, req.IfExists); err != nil {
		return "", err
	}

	if err := os.RemoveAll(db.TablePath(req.Table)); err != nil {
		return "", fmt.Errorf("failed to delete table directory: %w", err)
	}

	if err := db.Catalog.Save(db.CatalogPath); err != nil {
		return "", err
	}

	e.logger.Info().Str("table", req.Table).Msg("Dropped table")
	return fmt.Sprintf("Successfully dropped table '%s'", req.Table), nil
}

// sel forwards one plan statement to the embedded engine. The worker
// neither parses nor plans.
func (e *Executor) sel(ctx context.Context, req *types.SelectRequest) (string, error) {
	if err := e.engine.Execute(ctx, req.RawQuery); err != nil {
		return "", err
	}
	return "Executed statement", nil
}
