// Package parquet is the Iceberg data-file codec: it writes rows to Parquet
// files carrying Iceberg field-id discipline in column metadata, and reads
// them back matched by field-id rather than name or physical position.
package parquet

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	parquetfile "github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/apache/iceberg-go"
	"github.com/google/uuid"

	icetypes "github.com/icereplica/coreflow/internal/iceberg/types"
	"github.com/icereplica/coreflow/pkg/errors"
)

// Row is a single record keyed by column name. A nil value means SQL NULL.
type Row map[string]any

// DefaultRowGroupSize is the row-group boundary: a row group is emitted
// every 1,048,576 rows absent a smaller caller override.
const DefaultRowGroupSize = 1 << 20

var (
	codeInvalidRow     = errors.ParquetCode("invalid_row")
	codeSchemaMismatch = errors.ParquetCode("schema_mismatch")
	codeWriteFailed    = errors.ParquetCode("write_failed")
	codeReadFailed     = errors.ParquetCode("read_failed")
	codeCancelled      = errors.ParquetCode("cancelled")
)

// WrittenFile describes one Parquet file produced by Write.
type WrittenFile struct {
	Path        string
	RecordCount int64
	SizeBytes   int64
}

// WriteOptions configures Write's file-splitting and row-group behavior.
type WriteOptions struct {
	// MaxRecordsPerFile bounds rows per output file; 0 means a single file.
	MaxRecordsPerFile int
	// RowGroupSize overrides DefaultRowGroupSize when non-zero.
	RowGroupSize int
}

// RowIterator yields rows one at a time. ok is false once the source is
// exhausted; err is non-nil only on failure, never to signal exhaustion.
type RowIterator interface {
	Next(ctx context.Context) (row Row, ok bool, err error)
}

// SliceIterator adapts a fixed slice of rows to RowIterator, observing
// cancellation between rows.
type SliceIterator struct {
	rows []Row
	pos  int
}

// NewSliceIterator wraps rows for use as a Write source or in tests.
func NewSliceIterator(rows []Row) *SliceIterator {
	return &SliceIterator{rows: rows}
}

func (s *SliceIterator) Next(ctx context.Context) (Row, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, errors.New(codeCancelled, "row iteration cancelled", ctx.Err())
	default:
	}
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

// Write encodes rows from src under schema into one or more Parquet files,
// splitting at opts.MaxRecordsPerFile and naming each file via newPath(index).
// A nil value in a required field fails the write with InvalidRow; the file
// being written at that point is abandoned (it lives only under data/ and is
// never referenced by any committed metadata, so no reader can observe it).
func Write(ctx context.Context, schema *iceberg.Schema, src RowIterator, opts WriteOptions, newPath func(index int) (string, error)) ([]WrittenFile, error) {
	arrowSchema, err := icetypes.ArrowSchema(schema)
	if err != nil {
		return nil, errors.Wrap(codeWriteFailed, err, "converting schema to Arrow")
	}

	rowGroupSize := opts.RowGroupSize
	if rowGroupSize <= 0 {
		rowGroupSize = DefaultRowGroupSize
	}

	var written []WrittenFile
	fileIndex := 0
	pool := memory.NewGoAllocator()

	for {
		path, err := newPath(fileIndex)
		if err != nil {
			return written, errors.Wrap(codeWriteFailed, err, "allocating output path")
		}

		count, size, hasMore, err := writeOneFile(ctx, path, schema, arrowSchema, src, rowGroupSize, opts.MaxRecordsPerFile, pool)
		if err != nil {
			return written, err
		}
		if count > 0 {
			written = append(written, WrittenFile{Path: path, RecordCount: count, SizeBytes: size})
		}
		fileIndex++
		if !hasMore {
			break
		}
	}

	return written, nil
}

// writeOneFile writes up to maxRecords rows (0 = unbounded) from src into a
// single Parquet file at path. hasMore reports that the file boundary, not
// exhaustion, ended the write; src may still turn out to have no rows left.
func writeOneFile(ctx context.Context, path string, schema *iceberg.Schema, arrowSchema *arrow.Schema, src RowIterator, rowGroupSize, maxRecords int, pool memory.Allocator) (count int64, size int64, hasMore bool, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, false, errors.Wrapf(codeWriteFailed, err, "creating Parquet file %s", path)
	}

	props := parquet.NewWriterProperties(parquet.WithMaxRowGroupLength(int64(rowGroupSize)))
	// Storing the Arrow schema keeps each column's field_id metadata intact
	// through the file, so the reader can match columns by id instead of
	// reconstructing them from the bare Parquet schema.
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	writer, err := pqarrow.NewFileWriter(arrowSchema, f, props, arrowProps)
	if err != nil {
		f.Close()
		return 0, 0, false, errors.Wrapf(codeWriteFailed, err, "creating Parquet writer %s", path)
	}

	fields := schema.Fields()
	var batch []Row
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		record, rerr := rowsToRecord(arrowSchema, fields, batch, pool)
		if rerr != nil {
			return rerr
		}
		werr := writer.Write(record)
		record.Release()
		if werr != nil {
			return errors.Wrapf(codeWriteFailed, werr, "writing record batch to %s", path)
		}
		count += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		if maxRecords > 0 && int(count)+len(batch) >= maxRecords {
			hasMore = true
			break
		}

		row, ok, nerr := src.Next(ctx)
		if nerr != nil {
			writer.Close()
			f.Close()
			return count, size, false, nerr
		}
		if !ok {
			break
		}
		batch = append(batch, row)
		if len(batch) >= rowGroupSize {
			if ferr := flush(); ferr != nil {
				writer.Close()
				f.Close()
				return count, size, false, ferr
			}
		}
	}

	if ferr := flush(); ferr != nil {
		writer.Close()
		f.Close()
		return count, size, false, ferr
	}

	if cerr := writer.Close(); cerr != nil {
		f.Close()
		return count, size, false, errors.Wrapf(codeWriteFailed, cerr, "closing Parquet writer %s", path)
	}

	if info, serr := os.Stat(path); serr == nil {
		size = info.Size()
	}
	if cerr := f.Close(); cerr != nil {
		return count, size, false, errors.Wrapf(codeWriteFailed, cerr, "closing Parquet file %s", path)
	}

	// A source that ran dry exactly on the previous file's boundary leaves
	// this file with zero rows; remove it instead of orphaning it on disk.
	if count == 0 {
		os.Remove(path)
	}

	return count, size, hasMore, nil
}

// rowsToRecord converts a batch of rows to a single Arrow record, enforcing
// the required/null contract column by column.
func rowsToRecord(arrowSchema *arrow.Schema, fields []iceberg.NestedField, rows []Row, pool memory.Allocator) (arrow.Record, error) {
	arrays := make([]arrow.Array, len(fields))
	for i, field := range fields {
		af := arrowSchema.Field(i)
		builder := array.NewBuilder(pool, af.Type)
		for rowIdx, row := range rows {
			value, present := row[field.Name]
			if !present {
				value = nil
			}
			if value == nil {
				if field.Required {
					builder.Release()
					return nil, errors.New(codeInvalidRow,
						fmt.Sprintf("required field %q is null", field.Name), nil).
						AddContext("row_index", rowIdx).
						AddContext("field_id", field.ID)
				}
				builder.AppendNull()
				continue
			}
			if err := appendValue(builder, af.Type, value); err != nil {
				builder.Release()
				return nil, errors.Wrapf(codeInvalidRow, err,
					"field %q row %d", field.Name, rowIdx)
			}
		}
		arrays[i] = builder.NewArray()
		builder.Release()
	}

	record := array.NewRecord(arrowSchema, arrays, int64(len(rows)))
	for _, a := range arrays {
		a.Release()
	}
	return record, nil
}

func appendValue(builder array.Builder, dataType arrow.DataType, value any) error {
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		b.Append(v)
	case *array.Int32Builder:
		v, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("expected int32-compatible value, got %T", value)
		}
		b.Append(int32(v))
	case *array.Int64Builder:
		v, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("expected int64-compatible value, got %T", value)
		}
		b.Append(v)
	case *array.Float32Builder:
		v, ok := toFloat64(value)
		if !ok {
			return fmt.Errorf("expected float32-compatible value, got %T", value)
		}
		b.Append(float32(v))
	case *array.Float64Builder:
		v, ok := toFloat64(value)
		if !ok {
			return fmt.Errorf("expected float64-compatible value, got %T", value)
		}
		b.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		b.Append(v)
	case *array.BinaryBuilder:
		v, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("expected []byte, got %T", value)
		}
		b.Append(v)
	case *array.Date32Builder:
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.TimestampBuilder:
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		ts, err := arrow.TimestampFromTime(t, arrow.Microsecond)
		if err != nil {
			return err
		}
		b.Append(ts)
	case *array.FixedSizeBinaryBuilder:
		id, err := toUUIDBytes(value)
		if err != nil {
			return err
		}
		b.Append(id)
	default:
		return fmt.Errorf("unsupported Arrow builder %T for type %v", builder, dataType)
	}
	return nil
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toUUIDBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case [16]byte:
		return v[:], nil
	case []byte:
		if len(v) != 16 {
			return nil, fmt.Errorf("uuid must be 16 bytes, got %d", len(v))
		}
		return v, nil
	case uuid.UUID:
		return v[:], nil
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid string: %w", err)
		}
		return parsed[:], nil
	default:
		return nil, fmt.Errorf("expected uuid-compatible value, got %T", value)
	}
}

// Read opens path for streaming read, matching columns to schema's fields by
// Iceberg field-id rather than name or physical order. The returned
// RowIterator must be closed via the returned closer once exhausted or
// abandoned.
func Read(ctx context.Context, path string, schema *iceberg.Schema) (RowIterator, func() error, error) {
	rdr, err := parquetfile.OpenParquetFile(path, false)
	if err != nil {
		return nil, nil, errors.Wrapf(codeReadFailed, err, "opening Parquet file %s", path)
	}

	fileReader, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		rdr.Close()
		return nil, nil, errors.Wrapf(codeReadFailed, err, "creating Arrow reader for %s", path)
	}

	fileSchema, err := fileReader.Schema()
	if err != nil {
		rdr.Close()
		return nil, nil, errors.Wrapf(codeReadFailed, err, "reading Arrow schema from %s", path)
	}

	colByFieldID := make(map[int]int, fileSchema.NumFields())
	for i := 0; i < fileSchema.NumFields(); i++ {
		f := fileSchema.Field(i)
		idStr, ok := f.Metadata.GetValue(icetypes.FieldIDKey)
		if !ok {
			// Files written elsewhere may carry no embedded Arrow schema;
			// pqarrow then surfaces the Parquet-level field-id under its
			// own metadata key instead.
			idStr, ok = f.Metadata.GetValue(icetypes.ParquetFieldIDKey)
		}
		if !ok {
			continue
		}
		var id int
		if _, serr := fmt.Sscanf(idStr, "%d", &id); serr != nil {
			continue
		}
		colByFieldID[id] = i
	}

	fields := schema.Fields()
	colIndex := make([]int, len(fields))
	for i, f := range fields {
		idx, ok := colByFieldID[f.ID]
		if !ok {
			rdr.Close()
			return nil, nil, errors.New(codeSchemaMismatch,
				fmt.Sprintf("field_id %d (%s) not present in Parquet file", f.ID, f.Name), nil).
				AddContext("path", path)
		}
		colIndex[i] = idx
	}

	recordReader, err := fileReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		rdr.Close()
		return nil, nil, errors.Wrapf(codeReadFailed, err, "creating record reader for %s", path)
	}

	it := &parquetRowIterator{
		reader:   recordReader,
		fields:   fields,
		colIndex: colIndex,
	}
	closer := func() error {
		recordReader.Release()
		return rdr.Close()
	}
	return it, closer, nil
}

type parquetRowIterator struct {
	reader   array.RecordReader
	fields   []iceberg.NestedField
	colIndex []int

	current  arrow.Record
	rowInRec int
}

func (it *parquetRowIterator) Next(ctx context.Context) (Row, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, errors.New(codeCancelled, "row iteration cancelled", ctx.Err())
	default:
	}

	for it.current == nil || it.rowInRec >= int(it.current.NumRows()) {
		if it.current != nil {
			it.current.Release()
			it.current = nil
		}
		if !it.reader.Next() {
			if err := it.reader.Err(); err != nil {
				return nil, false, errors.Wrap(codeReadFailed, err, "reading row group")
			}
			return nil, false, nil
		}
		it.current = it.reader.Record()
		it.current.Retain()
		it.rowInRec = 0
	}

	row := make(Row, len(it.fields))
	for i, f := range it.fields {
		col := it.current.Column(it.colIndex[i])
		if col.IsNull(it.rowInRec) {
			row[f.Name] = nil
			continue
		}
		row[f.Name] = extractValue(col, it.rowInRec)
	}
	it.rowInRec++
	return row, true, nil
}

func extractValue(col arrow.Array, row int) any {
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(row)
	case *array.Int32:
		return c.Value(row)
	case *array.Int64:
		return c.Value(row)
	case *array.Float32:
		return c.Value(row)
	case *array.Float64:
		return c.Value(row)
	case *array.String:
		return c.Value(row)
	case *array.Binary:
		return c.Value(row)
	case *array.Date32:
		return c.Value(row).ToTime()
	case *array.Timestamp:
		unit := col.DataType().(*arrow.TimestampType).Unit
		return c.Value(row).ToTime(unit)
	case *array.FixedSizeBinary:
		return c.Value(row)
	default:
		return nil
	}
}
