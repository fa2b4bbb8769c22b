// Package coordinator drives the incremental sync run: it ties change
// detection, the Iceberg writer/appender/reader, the merge driver, and the
// watermark store into one state-machine governed operation per table.
package coordinator

import (
	"context"
	"database/sql"
	"time"

	"github.com/apache/iceberg-go"
	"github.com/rs/zerolog"

	icparquet "github.com/icereplica/coreflow/internal/iceberg/parquet"
	"github.com/icereplica/coreflow/internal/iceberg/table"
	"github.com/icereplica/coreflow/internal/sync/detect"
	"github.com/icereplica/coreflow/internal/sync/merge"
	"github.com/icereplica/coreflow/internal/sync/watermark"
	"github.com/icereplica/coreflow/pkg/errors"
)

var codeMissingSchema = errors.SyncCode("missing_schema")

// Both sides of a run carry an independent timeout; these are the defaults
// when the config leaves them unset.
const (
	defaultExtractTimeout = 5 * time.Minute
	defaultMergeTimeout   = 5 * time.Minute
)

// Result summarizes one completed run.
type Result struct {
	TableName       string
	RowsExtracted   int
	RowsAppended    int64
	SnapshotCreated bool
	NewSnapshotID   int64
	Merge           merge.Result
	NewWatermark    *watermark.Watermark
	Duration        time.Duration
}

// Coordinator runs incremental syncs for any number of tables, serialising
// concurrent runs against the same table via its TableLocks registry.
type Coordinator struct {
	cfg        Config
	table      *table.Table
	watermarks *watermark.Store
	merge      *merge.Driver
	locks      *TableLocks
	retryer    *Retryer
	logger     zerolog.Logger
}

// New wires a Coordinator around its already-constructed collaborators.
// The caller owns the lifetimes of the catalog behind table, the watermark
// directory, and the target-database session behind mergeDriver.
func New(cfg Config, tbl *table.Table, watermarks *watermark.Store, mergeDriver *merge.Driver, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		table:      tbl,
		watermarks: watermarks,
		merge:      mergeDriver,
		locks:      NewTableLocks(),
		retryer:    NewRetryer(cfg.Retry.RetryPolicy(), logger),
		logger:     logger,
	}
}

// rowSliceIterator adapts ExtractedRow (whose keys are source column
// names) to the icparquet.RowIterator the table writer/appender expect.
func rowSliceIterator(rows []ExtractedRow) icparquet.RowIterator {
	icRows := make([]icparquet.Row, len(rows))
	for i, r := range rows {
		icRows[i] = icparquet.Row(r)
	}
	return icparquet.NewSliceIterator(icRows)
}

// icebergRowSource adapts the table reader's icparquet.RowIterator to the
// merge driver's RowSource, the two packages' row maps being structurally
// identical but distinctly named types.
type icebergRowSource struct {
	it icparquet.RowIterator
}

func (s icebergRowSource) Next(ctx context.Context) (merge.Row, bool, error) {
	row, ok, err := s.it.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return merge.Row(row), true, nil
}

// Run executes one incremental sync for tableName against sourceDB.
// explicitSchema is required once a watermark already exists (the table's
// schema is by then fixed); on a table's very first sync it is optional:
// if nil, the schema is inferred from the first extracted row, and a
// zero-row first sync is refused rather than silently skipped, since there
// would be no schema to create the table with.
func (c *Coordinator) Run(ctx context.Context, tableName string, sourceDB *sql.DB, explicitSchema *iceberg.Schema) (Result, error) {
	c.locks.Lock(tableName)
	defer c.locks.Unlock(tableName)

	sm := NewStateMachine()
	runStart := time.Now().UTC()

	fail := func(err error) (Result, error) {
		sm.fail()
		return Result{}, err
	}

	if err := sm.Transition(StateExtracting); err != nil {
		return fail(err)
	}

	prevWatermark, err := c.watermarks.Load(tableName)
	if err != nil {
		return fail(err)
	}

	det, err := detect.New(c.cfg.Watermark.Column)
	if err != nil {
		return fail(err)
	}
	var lastWatermarkValue any
	if prevWatermark != nil {
		lastWatermarkValue = prevWatermark.LastSyncID
	}
	// The source-side table may carry a different name than the Iceberg
	// table it lands in; absent an override they are the same.
	sourceTable := c.cfg.Source.Table
	if sourceTable == "" {
		sourceTable = tableName
	}
	query, err := det.BuildQuery(sourceTable, lastWatermarkValue)
	if err != nil {
		return fail(err)
	}

	extractTimeout := c.cfg.Source.QueryTimeout
	if extractTimeout <= 0 {
		extractTimeout = defaultExtractTimeout
	}

	var columns []string
	var rows []ExtractedRow
	err = c.retryer.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, extractTimeout)
		defer cancel()
		var extractErr error
		columns, rows, extractErr = extractRows(ctx, sourceDB, query, c.cfg.Source.BatchThreshold)
		return extractErr
	})
	if err != nil {
		return fail(err)
	}

	result := Result{TableName: tableName, RowsExtracted: len(rows)}

	schema := explicitSchema
	var writeResult table.WriteResult
	if prevWatermark == nil {
		if err := sm.Transition(StateCreating); err != nil {
			return fail(err)
		}
		if schema == nil {
			if len(rows) == 0 {
				return fail(errors.New(codeEmptyFirstSync,
					"cannot infer a schema from zero extracted rows on a table's first sync", nil))
			}
			schema, err = inferSchema(columns, rows[0])
			if err != nil {
				return fail(err)
			}
		}
		writeResult, err = c.table.CreateInitial(ctx, tableName, schema, rowSliceIterator(rows), icparquet.WriteOptions{})
		if err != nil {
			return fail(err)
		}
		result.SnapshotCreated = true
	} else {
		if err := sm.Transition(StateAppending); err != nil {
			return fail(err)
		}
		if schema == nil {
			return fail(errors.New(codeMissingSchema,
				"appending to an existing table requires the caller to supply its declared schema", nil))
		}
		writeResult, err = c.table.Append(ctx, tableName, schema, rowSliceIterator(rows), icparquet.WriteOptions{})
		if err != nil {
			return fail(err)
		}
	}
	result.NewSnapshotID = writeResult.SnapshotID
	result.RowsAppended = writeResult.RowsWritten

	if err := sm.Transition(StateReading); err != nil {
		return fail(err)
	}
	if err := sm.Transition(StateMerging); err != nil {
		return fail(err)
	}
	mergeOpts := merge.Options{
		TargetTable: c.cfg.Target.Table,
		Columns:     schemaColumnNames(schema),
		PrimaryKey:  c.cfg.Merge.PrimaryKey,
		BatchSize:   c.cfg.Merge.BatchSize,
	}
	strategy := c.cfg.Merge.Strategy
	if strategy == "" {
		strategy = merge.StrategyUpsert
	}

	mergeTimeout := c.cfg.Merge.MergeTimeout
	if mergeTimeout <= 0 {
		mergeTimeout = defaultMergeTimeout
	}

	// The snapshot reader is reopened on every attempt: a failed merge may
	// have partially drained the previous stream, and each retry must stage
	// the full current snapshot again for the strategies to stay idempotent.
	var mergeResult merge.Result
	err = c.retryer.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, mergeTimeout)
		defer cancel()
		reader, closer, readErr := c.table.Read(ctx, tableName)
		if readErr != nil {
			return readErr
		}
		defer closer()
		var mergeErr error
		mergeResult, mergeErr = c.merge.Merge(ctx, strategy, icebergRowSource{it: reader}, mergeOpts)
		return mergeErr
	})
	if err != nil {
		return fail(err)
	}
	result.Merge = mergeResult

	// A merge failure must not advance the watermark: the Iceberg snapshot
	// is already durable, so the next run re-reads it and re-merges, which
	// every strategy tolerates since the reader always yields the full
	// current snapshot.
	if err := sm.Transition(StateAdvancing); err != nil {
		return fail(err)
	}
	newWatermark := &watermark.Watermark{
		TableName:           tableName,
		LastSyncTimestamp:   runStart,
		LastIcebergSnapshot: result.NewSnapshotID,
		RowCount:            len(rows),
		CreatedAt:           runStart,
	}
	if len(rows) > 0 {
		newWatermark.LastSyncID = rows[len(rows)-1][c.cfg.Watermark.Column]
	} else if prevWatermark != nil {
		newWatermark.LastSyncID = prevWatermark.LastSyncID
		newWatermark.CreatedAt = prevWatermark.CreatedAt
	}
	if err := c.watermarks.Save(newWatermark); err != nil {
		return fail(err)
	}
	result.NewWatermark = newWatermark

	if err := sm.Transition(StateDone); err != nil {
		return fail(err)
	}
	result.Duration = time.Since(runStart)
	c.logger.Info().Str("table", tableName).
		Int("rows_extracted", result.RowsExtracted).
		Int64("rows_appended", result.RowsAppended).
		Int64("snapshot_id", result.NewSnapshotID).
		Dur("duration", result.Duration).
		Msg("sync run complete")
	return result, nil
}
