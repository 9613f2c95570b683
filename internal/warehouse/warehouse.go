// Package warehouse owns the process-wide assessments table: lazy
// provisioning, schema caching and read access for the answering tools.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aquamitra/aquamitra/internal/corpus"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/provision"
	"github.com/aquamitra/aquamitra/internal/query"
	"github.com/aquamitra/aquamitra/internal/query/duckdb"
	"github.com/aquamitra/aquamitra/internal/schema"
	"github.com/aquamitra/aquamitra/internal/storage"
)

type Options struct {
	Dir      string
	Pattern  string
	Table    string
	RowLimit int
	// Store, when set, is synced into Dir before every provisioning run.
	Store  storage.ObjectStore
	Logger *slog.Logger
}

type Stats struct {
	Table         string    `json:"table"`
	Ready         bool      `json:"ready"`
	Rows          int64     `json:"rows"`
	SourceRows    int64     `json:"source_rows"`
	Files         []string  `json:"files"`
	ProvisionedAt time.Time `json:"provisioned_at"`
}

type Warehouse struct {
	db          *sql.DB
	opts        Options
	provisioner *provision.Provisioner
	engine      *duckdb.Engine

	group singleflight.Group
	ready atomic.Bool

	mu     sync.RWMutex
	schema schema.Schema
	stats  Stats
}

func New(db *sql.DB, opts Options) (*Warehouse, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if opts.Table == "" {
		opts.Table = "assessments"
	}
	if opts.Pattern == "" {
		opts.Pattern = provision.DefaultPattern
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Warehouse{
		db:          db,
		opts:        opts,
		provisioner: provision.New(db, opts.Table),
		engine:      duckdb.NewEngine(db),
		stats:       Stats{Table: opts.Table},
	}, nil
}

// EnsureReady provisions the table once. Concurrent callers share a single
// run; a failed run is retried by the next caller.
func (w *Warehouse) EnsureReady(ctx context.Context) error {
	if w.ready.Load() {
		return nil
	}
	_, err, _ := w.group.Do("provision", func() (any, error) {
		if w.ready.Load() {
			return nil, nil
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if err := w.load(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		w.ready.Store(true)
		return nil, nil
	})
	return err
}

// Reprovision drops and rebuilds the table. Queries wait until it finishes.
func (w *Warehouse) Reprovision(ctx context.Context) (Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.load(ctx); err != nil {
		return w.stats, err
	}
	w.ready.Store(true)
	return w.copyStats(), nil
}

func (w *Warehouse) Query(ctx context.Context, sqlText string, rowLimit int) (query.Result, error) {
	if err := w.EnsureReady(ctx); err != nil {
		return query.Result{}, err
	}
	if rowLimit <= 0 {
		rowLimit = w.opts.RowLimit
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: rowLimit})
}

// SerializeSQL returns DuckDB's parse tree for sqlText as JSON. Nothing is
// executed and the table need not exist.
func (w *Warehouse) SerializeSQL(ctx context.Context, sqlText string) (string, error) {
	var tree string
	if err := w.db.QueryRowContext(ctx, "SELECT CAST(json_serialize_sql(?) AS VARCHAR)", sqlText).Scan(&tree); err != nil {
		return "", fmt.Errorf("serialize sql: %w", err)
	}
	return tree, nil
}

func (w *Warehouse) Schema(ctx context.Context) (schema.Schema, error) {
	if err := w.EnsureReady(ctx); err != nil {
		return schema.Schema{}, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.schema, nil
}

func (w *Warehouse) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.copyStats()
}

func (w *Warehouse) copyStats() Stats {
	out := w.stats
	out.Ready = w.ready.Load()
	out.Files = append([]string(nil), w.stats.Files...)
	return out
}

// load runs with the write lock held.
func (w *Warehouse) load(ctx context.Context) error {
	start := time.Now()
	if w.opts.Store != nil {
		synced, err := corpus.Sync(ctx, w.opts.Store, w.opts.Dir)
		if err != nil {
			return &provision.IngestionError{Dir: w.opts.Dir, Pattern: w.opts.Pattern, Reason: "sync corpus from object store", Err: err}
		}
		w.opts.Logger.InfoContext(ctx, "corpus synced", "files", len(synced.Files), "bytes", synced.Bytes)
	}
	files, err := provision.MatchFiles(w.opts.Dir, w.opts.Pattern)
	if err != nil {
		return err
	}
	rows, err := w.provisioner.Provision(ctx, w.opts.Dir, w.opts.Pattern)
	if err != nil {
		return err
	}
	sourceRows, err := provision.CountDataRows(w.opts.Dir, w.opts.Pattern)
	if err != nil {
		return &provision.IngestionError{Dir: w.opts.Dir, Pattern: w.opts.Pattern, Reason: "count source rows", Err: err}
	}
	if sourceRows != rows {
		w.opts.Logger.WarnContext(ctx, "row count differs from source files", "table_rows", rows, "source_rows", sourceRows)
	}
	introspected, err := schema.Introspect(ctx, w.db, w.opts.Table)
	if err != nil {
		return fmt.Errorf("introspect %s: %w", w.opts.Table, err)
	}
	for _, warning := range introspected.Warnings {
		w.opts.Logger.WarnContext(ctx, "schema warning", "column", warning.Column, "type", warning.NativeType)
	}

	elapsed := time.Since(start)
	observability.ObserveProvision(rows, elapsed)
	w.schema = introspected
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = filepath.Base(file)
	}
	w.stats = Stats{Table: w.opts.Table, Rows: rows, SourceRows: sourceRows, Files: names, ProvisionedAt: time.Now().UTC()}
	w.opts.Logger.InfoContext(ctx, "assessments table provisioned",
		"table", w.opts.Table,
		"rows", rows,
		"files", len(files),
		"columns", len(introspected.Columns),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}
