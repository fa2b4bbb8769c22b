package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apache/iceberg-go"

	"github.com/icereplica/coreflow/internal/iceberg/types"
	"github.com/icereplica/coreflow/internal/sync/detect"
	"github.com/icereplica/coreflow/pkg/errors"
)

var (
	codeExtractFailed      = errors.SyncCode("extract_failed")
	codeInferenceFailed    = errors.SyncCode("schema_inference_failed")
	codeEmptyFirstSync     = errors.SyncCode("empty_first_sync")
	codeUnsupportedGoValue = errors.SyncCode("uninferable_value_type")
)

// ExtractedRow is a single row pulled from the source session, keyed by
// column name exactly as database/sql reports it.
type ExtractedRow = map[string]any

// extractRows runs query against db and scans every result row into an
// ExtractedRow, stopping early once batchThreshold rows have been read
// (0 means unbounded).
func extractRows(ctx context.Context, db *sql.DB, query detect.Query, batchThreshold int) ([]string, []ExtractedRow, error) {
	rows, err := db.QueryContext(ctx, query.SQL, query.Params...)
	if err != nil {
		return nil, nil, errors.Wrap(codeExtractFailed, err, "executing extraction query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(codeExtractFailed, err, "reading result columns")
	}

	var out []ExtractedRow
	for rows.Next() {
		if batchThreshold > 0 && len(out) >= batchThreshold {
			break
		}
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errors.Wrap(codeExtractFailed, err, "scanning extracted row")
		}
		row := make(ExtractedRow, len(columns))
		for i, c := range columns {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(codeExtractFailed, err, "iterating extraction result set")
	}
	return columns, out, nil
}

// inferSchema builds an Iceberg schema from one row's Go runtime value
// types. This necessarily loses information: decimal precision and declared
// string length are not recoverable from a single row's scanned values.
// Columns keep the order the result set reports them in. The path is only
// ever taken when the caller has not supplied an explicit schema.
func inferSchema(columns []string, first ExtractedRow) (*iceberg.Schema, error) {
	builder := types.NewSchemaBuilder(0)
	for _, col := range columns {
		rel, nullable, err := inferRelationalType(first[col])
		if err != nil {
			return nil, errors.Wrapf(codeInferenceFailed, err, "inferring type for column %q", col)
		}
		if _, err := builder.AddColumn(col, rel, nullable); err != nil {
			return nil, errors.Wrapf(codeInferenceFailed, err, "adding column %q", col)
		}
	}
	schema, err := builder.Build()
	if err != nil {
		return nil, errors.Wrap(codeInferenceFailed, err, "building inferred schema")
	}
	return schema, nil
}

// inferRelationalType maps a database/sql-scanned Go value to the closed
// relational type set the type mapper recognizes. A nil value (a NULL column) cannot
// itself reveal a type, so it maps to text/nullable, the least surprising
// fallback given a single sample row.
func inferRelationalType(v any) (types.RelationalType, bool, error) {
	switch val := v.(type) {
	case nil:
		return types.RelText, true, nil
	case bool:
		return types.RelBoolean, false, nil
	case int64:
		return types.RelBigInt, false, nil
	case int32:
		return types.RelInteger, false, nil
	case int:
		return types.RelBigInt, false, nil
	case float64:
		return types.RelDouble, false, nil
	case float32:
		return types.RelReal, false, nil
	case string:
		return types.RelText, false, nil
	case []byte:
		return types.RelBinary, false, nil
	case time.Time:
		return types.RelTimestampTz, false, nil
	default:
		return "", false, errors.New(codeUnsupportedGoValue,
			fmt.Sprintf("cannot infer a relational type from Go value of type %T", val), nil)
	}
}

// schemaColumnNames returns a schema's field names in the schema's declared
// field order, the column order the merge driver stages against. The source's extraction
// column order is irrelevant here: the table reader always yields the full
// current snapshot regardless of which columns the most recent extraction
// touched.
func schemaColumnNames(schema *iceberg.Schema) []string {
	fields := schema.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
