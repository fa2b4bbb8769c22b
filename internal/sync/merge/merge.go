// Package merge loads a row-stream read from the Iceberg table reader
// into a target relational table, under one of three
// strategies. Every strategy stages the stream in a session-scoped table
// first and finalises against the real target in a single statement or
// transaction, so a caller never observes a half-applied merge.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/icereplica/coreflow/pkg/errors"
	"github.com/icereplica/coreflow/utils"
)

var (
	codeInvalidIdentifier = errors.MergeCode("invalid_identifier")
	codeMissingPrimaryKey = errors.MergeCode("missing_primary_key")
	codeEmptyColumns      = errors.MergeCode("empty_columns")
	codeStagingFailed     = errors.MergeCode("staging_failed")
	codeLoadFailed        = errors.MergeCode("load_failed")
	codeFinalizeFailed    = errors.MergeCode("finalize_failed")
)

// identifierPattern mirrors the change-detector's accepted identifier
// character set: no quoting, no concatenation of caller-controlled
// punctuation into SQL text.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.New(codeInvalidIdentifier,
			fmt.Sprintf("identifier %q contains characters outside the accepted set", name), nil).
			AddContext("identifier", name)
	}
	return nil
}

// Strategy selects how staged rows are reconciled into the target table.
type Strategy string

const (
	// StrategyUpsert merges on PrimaryKey: matching rows are updated,
	// unmatched rows are inserted. The default strategy.
	StrategyUpsert Strategy = "upsert"
	// StrategyAppend inserts every staged row; a primary-key violation
	// fails the merge rather than being silently dropped.
	StrategyAppend Strategy = "append"
	// StrategyReplace truncates the target and reloads it from staging,
	// all inside one transaction.
	StrategyReplace Strategy = "replace"
)

const defaultBatchSize = 10000

// Row is a single staged record keyed by target column name, the same
// shape the Iceberg reader yields.
type Row = map[string]any

// RowSource is anything the driver can drain into the staging table. It has
// the same shape as the Iceberg package's RowIterator, but that interface's
// Next returns the parquet package's named Row type, so a table reader is
// passed in through a small adapter that converts each row.
type RowSource interface {
	Next(ctx context.Context) (Row, bool, error)
}

// Options configures one merge run.
type Options struct {
	// TargetTable is the destination table name: a bare identifier,
	// validated against the same rule the change detector uses and written
	// into the SQL unquoted.
	TargetTable string
	// Columns lists the target column names in the order staged rows
	// should be written. Required: a merge never infers columns from an
	// arbitrary first row, since a dropped column in one batch must not
	// silently narrow the staging schema.
	Columns []string
	// PrimaryKey is the column StrategyUpsert matches on. Required for
	// StrategyUpsert; ignored otherwise.
	PrimaryKey string
	// BatchSize caps how many rows one staging INSERT statement carries.
	// Defaults to 10,000.
	BatchSize int
}

func (o Options) validate(strategy Strategy) error {
	if err := validateIdentifier(o.TargetTable); err != nil {
		return err
	}
	if len(o.Columns) == 0 {
		return errors.New(codeEmptyColumns, "merge requires at least one target column", nil)
	}
	for _, c := range o.Columns {
		if err := validateIdentifier(c); err != nil {
			return err
		}
	}
	if strategy == StrategyUpsert {
		if o.PrimaryKey == "" {
			return errors.New(codeMissingPrimaryKey, "upsert strategy requires a primary key column", nil)
		}
		if err := validateIdentifier(o.PrimaryKey); err != nil {
			return err
		}
	}
	return nil
}

// Result reports what a merge run did to the target table.
type Result struct {
	RowsInserted int64
	RowsUpdated  int64
}

// Driver runs merges against one target-database connection.
type Driver struct {
	db     *bun.DB
	logger zerolog.Logger
}

// New wraps an already-connected bun session. The caller owns db's
// lifecycle (opening the dialect, connection pooling, closing it).
func New(db *bun.DB, logger zerolog.Logger) *Driver {
	return &Driver{db: db, logger: logger}
}

// OpenTarget wraps an already-opened database/sql connection with the bun
// dialect matching driverName, so callers targeting either of this
// package's two supported engines go through one factory rather than
// picking a dialect package themselves. driverName is the database/sql
// driver name the connection was opened with ("sqlite3" or "postgres");
// any other value is rejected rather than silently defaulting.
func OpenTarget(sqldb *sql.DB, driverName string) (*bun.DB, error) {
	switch driverName {
	case "sqlite3":
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case "postgres":
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, errors.New(errors.MergeCode("unsupported_dialect"),
			fmt.Sprintf("no bun dialect wired for driver %q", driverName), nil)
	}
}

// Merge drains src into a staging table and reconciles it into
// opts.TargetTable under the given strategy. The staging table is
// dropped before Merge returns, whether or not the merge succeeded.
func (d *Driver) Merge(ctx context.Context, strategy Strategy, src RowSource, opts Options) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if err := opts.validate(strategy); err != nil {
		return Result{}, err
	}

	staging := stagingTableName(opts.TargetTable)
	if err := d.createStaging(ctx, staging, opts.TargetTable); err != nil {
		return Result{}, errors.Wrapf(codeStagingFailed, err, "creating staging table for %q", opts.TargetTable)
	}
	defer func() {
		if _, err := d.db.NewRaw(fmt.Sprintf("DROP TABLE IF EXISTS %s", staging)).Exec(context.Background()); err != nil {
			d.logger.Warn().Err(err).Str("staging_table", staging).Msg("failed to drop staging table")
		}
	}()

	rowsStaged, err := d.loadStaging(ctx, staging, src, opts)
	if err != nil {
		return Result{}, errors.Wrapf(codeLoadFailed, err, "loading rows into staging table %q", staging)
	}
	if rowsStaged == 0 {
		return Result{}, nil
	}

	switch strategy {
	case StrategyUpsert:
		return d.finalizeUpsert(ctx, staging, opts)
	case StrategyAppend:
		return d.finalizeAppend(ctx, staging, opts)
	case StrategyReplace:
		return d.finalizeReplace(ctx, staging, opts)
	default:
		return Result{}, errors.New(errors.MergeCode("unknown_strategy"),
			fmt.Sprintf("unknown merge strategy %q", strategy), nil)
	}
}

// createStaging creates an empty copy of the target's column layout. "1=0"
// is understood by both the sqlite and postgres dialects this driver
// targets, so one statement serves either.
func (d *Driver) createStaging(ctx context.Context, staging, target string) error {
	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0", staging, target)
	_, err := d.db.NewRaw(stmt).Exec(ctx)
	return err
}

// loadStaging drains src in batches of opts.BatchSize, each flushed as one
// multi-row INSERT so the round-trip count stays proportional to
// rows/BatchSize rather than rows.
func (d *Driver) loadStaging(ctx context.Context, staging string, src RowSource, opts Options) (int64, error) {
	var total int64
	batch := make([]Row, 0, opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := d.insertBatch(ctx, staging, opts.Columns, batch); err != nil {
			return err
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		row, ok, err := src.Next(ctx)
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		batch = append(batch, row)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// insertBatch builds one parameterised multi-row INSERT. Running it through
// NewRaw lets bun rewrite "?" into the dialect's native placeholder style, so
// the same statement text works unchanged against sqlite and postgres.
func (d *Driver) insertBatch(ctx context.Context, table string, columns []string, rows []Row) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, row[col])
		}
		sb.WriteString(")")
	}

	_, err := d.db.NewRaw(sb.String(), args...).Exec(ctx)
	return err
}

// finalizeUpsert runs one atomic INSERT ... ON CONFLICT DO UPDATE, which
// both sqlitedialect and pgdialect's underlying engines support, standing
// in for a dialect-specific MERGE statement. Inserted/updated
// cannot be split apart from the rows-affected count either dialect
// surfaces through database/sql, so the full total is reported as
// inserted and updated is left at its documented best-effort zero.
func (d *Driver) finalizeUpsert(ctx context.Context, staging string, opts Options) (Result, error) {
	nonPK := make([]string, 0, len(opts.Columns))
	for _, c := range opts.Columns {
		if c != opts.PrimaryKey {
			nonPK = append(nonPK, c)
		}
	}

	setClause := make([]string, 0, len(nonPK))
	for _, c := range nonPK {
		setClause = append(setClause, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	// The WHERE clause on the inner SELECT is load-bearing: sqlite's parser
	// rejects INSERT ... SELECT followed by an upsert clause unless the
	// SELECT carries one, and postgres accepts it unchanged.
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s WHERE true ON CONFLICT(%s) DO UPDATE SET %s",
		opts.TargetTable, strings.Join(opts.Columns, ", "),
		strings.Join(opts.Columns, ", "), staging,
		opts.PrimaryKey, strings.Join(setClause, ", "),
	)
	res, err := d.db.NewRaw(stmt).Exec(ctx)
	if err != nil {
		return Result{}, errors.Wrap(codeFinalizeFailed, err, "executing upsert")
	}
	affected, _ := res.RowsAffected()
	return Result{RowsInserted: affected}, nil
}

// finalizeAppend inserts every staged row unconditionally; a primary-key
// violation is returned to the caller rather than swallowed.
func (d *Driver) finalizeAppend(ctx context.Context, staging string, opts Options) (Result, error) {
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		opts.TargetTable, strings.Join(opts.Columns, ", "), strings.Join(opts.Columns, ", "), staging)
	res, err := d.db.NewRaw(stmt).Exec(ctx)
	if err != nil {
		return Result{}, errors.Wrap(codeFinalizeFailed, err, "executing append")
	}
	affected, _ := res.RowsAffected()
	return Result{RowsInserted: affected}, nil
}

// finalizeReplace truncates the target and reloads it from staging inside
// one transaction, so a reader never observes the target empty and
// unpopulated at the same time.
func (d *Driver) finalizeReplace(ctx context.Context, staging string, opts Options) (Result, error) {
	var result Result
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw(fmt.Sprintf("DELETE FROM %s", opts.TargetTable)).Exec(ctx); err != nil {
			return errors.Wrap(codeFinalizeFailed, err, "truncating target")
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			opts.TargetTable, strings.Join(opts.Columns, ", "), strings.Join(opts.Columns, ", "), staging)
		res, err := tx.NewRaw(stmt).Exec(ctx)
		if err != nil {
			return errors.Wrap(codeFinalizeFailed, err, "reloading target from staging")
		}
		affected, _ := res.RowsAffected()
		result = Result{RowsInserted: affected}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// stagingTableName derives a collision-resistant staging name from the
// target, using a ULID suffix rather than a process-local counter so two
// coordinator processes racing against the same target never collide.
func stagingTableName(target string) string {
	return fmt.Sprintf("staging_%s_%s", target, utils.GenerateULIDString())
}
