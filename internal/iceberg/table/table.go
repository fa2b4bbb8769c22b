// Package table implements the three operations that sit directly on top
// of the catalog: creating a brand new table from its first batch of rows,
// appending a snapshot to an existing one, and reading a table's current
// contents back out. It ties together the type mapper, the Parquet codec,
// the Avro manifest codec, the metadata generator, and the catalog.
package table

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apache/iceberg-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icereplica/coreflow/internal/iceberg/avromf"
	"github.com/icereplica/coreflow/internal/iceberg/catalog"
	"github.com/icereplica/coreflow/internal/iceberg/metadata"
	icparquet "github.com/icereplica/coreflow/internal/iceberg/parquet"
	"github.com/icereplica/coreflow/pkg/errors"
)

var (
	codeEmptyInput     = errors.TableCode("empty_input")
	codeSchemaMismatch = errors.TableCode("schema_mismatch")
	codeTableNotFound  = errors.TableCode("table_not_found")
	codeStatFailed     = errors.TableCode("stat_failed")
	codeSnapshotNotFound = errors.TableCode("snapshot_not_found")
	codeSchemaNotFound   = errors.TableCode("schema_not_found")
)

// Table wires the catalog and codecs together for a single warehouse.
type Table struct {
	cat    *catalog.Catalog
	logger zerolog.Logger
}

func New(cat *catalog.Catalog, logger zerolog.Logger) *Table {
	return &Table{cat: cat, logger: logger}
}

// peekIterator lets the writer/appender check whether a RowIterator has at
// least one row before committing to any catalog side effects, without
// losing that first row once real iteration starts.
type peekIterator struct {
	inner    icparquet.RowIterator
	peeked   icparquet.Row
	hasPeek  bool
	consumed bool
}

func newPeekIterator(inner icparquet.RowIterator) *peekIterator {
	return &peekIterator{inner: inner}
}

// peek reports whether the source has at least one row, reading it into an
// internal buffer if so.
func (p *peekIterator) peek(ctx context.Context) (bool, error) {
	if p.hasPeek || p.consumed {
		return p.hasPeek, nil
	}
	row, ok, err := p.inner.Next(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		p.consumed = true
		return false, nil
	}
	p.peeked = row
	p.hasPeek = true
	return true, nil
}

func (p *peekIterator) Next(ctx context.Context) (icparquet.Row, bool, error) {
	if p.hasPeek {
		p.hasPeek = false
		return p.peeked, true, nil
	}
	if p.consumed {
		return nil, false, nil
	}
	row, ok, err := p.inner.Next(ctx)
	if !ok {
		p.consumed = true
	}
	return row, ok, err
}

func newUUID() string {
	return uuid.NewString()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// schemaMatches reports whether the stored schema document and the schema
// the caller wants to write with agree on every field's id, name, type and
// required-ness: the discipline that lets the Parquet codec trust
// field-ids at read time without a name or position fallback.
func schemaMatches(stored []metadata.Field, want *iceberg.Schema) bool {
	if len(stored) != len(want.Fields()) {
		return false
	}
	byID := make(map[int]metadata.Field, len(stored))
	for _, f := range stored {
		byID[f.ID] = f
	}
	for _, wf := range want.Fields() {
		sf, ok := byID[wf.ID]
		if !ok {
			return false
		}
		if sf.Name != wf.Name || sf.Required != wf.Required {
			return false
		}
		if typeFromName(sf.Type) != wf.Type {
			return false
		}
	}
	return true
}

// WriteResult summarizes the snapshot a writer or appender just committed.
type WriteResult struct {
	SnapshotID   int64
	RowsWritten  int64
	FilesWritten int
}

// CreateInitial writes the first ever snapshot of a table. It refuses
// zero-row input with EmptyInput rather than create a schema-only table
// with a committed but vacuous snapshot.
func (t *Table) CreateInitial(ctx context.Context, tableName string, schema *iceberg.Schema, src icparquet.RowIterator, opts icparquet.WriteOptions) (WriteResult, error) {
	peeked := newPeekIterator(src)
	hasRows, err := peeked.peek(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	if !hasRows {
		return WriteResult{}, errors.New(codeEmptyInput,
			"cannot create a table from zero rows; pre-declare the schema and wait for data", nil).
			AddContext("table", tableName)
	}

	tableUUID := newUUID()
	tablePath := t.cat.TablePath(tableName)

	written, err := icparquet.Write(ctx, schema, peeked, opts, func(index int) (string, error) {
		return filepath.Join(t.cat.DataDir(tableName), dataFileName(index)), nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	var rowsWritten int64
	entries := make([]avromf.ManifestEntry, 0, len(written))
	for _, f := range written {
		rowsWritten += f.RecordCount
		entries = append(entries, avromf.ManifestEntry{
			Status: avromf.StatusAdded,
			DataFile: avromf.DataFile{
				FilePath:        relToTableRoot(tablePath, f.Path),
				FileFormat:      avromf.FileFormatParquet,
				RecordCount:     f.RecordCount,
				FileSizeInBytes: f.SizeBytes,
			},
		})
	}

	snapshotID := newSnapshotID()
	manifestPath := filepath.Join(t.cat.MetadataDir(tableName), manifestFileName())
	if err := avromf.WriteManifest(manifestPath, withSnapshotID(entries, snapshotID)); err != nil {
		return WriteResult{}, err
	}

	manifestListPath := filepath.Join(t.cat.MetadataDir(tableName), manifestListFileName())
	manifestInfo, statErr := fileInfo(manifestPath)
	if statErr != nil {
		return WriteResult{}, errors.Wrap(codeStatFailed, statErr, "statting manifest file")
	}
	if err := avromf.WriteManifestList(manifestListPath, []avromf.ManifestListEntry{{
		ManifestPath:    relToTableRoot(tablePath, manifestPath),
		ManifestLength:  manifestInfo,
		PartitionSpecID: 0,
		AddedFilesCount: int32(len(entries)),
	}}); err != nil {
		return WriteResult{}, err
	}

	meta, err := metadata.CreateInitial(schema, tablePath, tableUUID, nowMs())
	if err != nil {
		return WriteResult{}, err
	}
	meta, err = metadata.AppendSnapshot(meta, metadata.AppendSnapshotInput{
		SnapshotID:     snapshotID,
		SequenceNumber: 1,
		ManifestList:   relToTableRoot(tablePath, manifestListPath),
		Summary: map[string]string{
			"operation":          "append",
			"added-data-files":   itoa(len(entries)),
			"added-records":      itoa64(rowsWritten),
		},
		SchemaID: schema.ID,
		NowMs:    nowMs(),
	}, "v1.metadata.json")
	if err != nil {
		return WriteResult{}, err
	}
	// AppendSnapshot reads the last snapshot's sequence number only when one
	// exists; against a freshly created, snapshot-less document it treats -1
	// as "no prior max" and accepts 1, which is exactly CreateInitial's
	// contract (sequence_number = 1).

	if err := t.cat.InitializeTable(tableName, meta); err != nil {
		return WriteResult{}, err
	}

	t.logger.Info().Str("table", tableName).Int64("snapshot_id", snapshotID).
		Int64("rows", rowsWritten).Int("files", len(written)).Msg("created initial snapshot")

	return WriteResult{SnapshotID: snapshotID, RowsWritten: rowsWritten, FilesWritten: len(written)}, nil
}

// Append adds a new snapshot to an existing table containing the union of
// everything ever appended. Empty input is a no-op success rather than
// EmptyInput: a table with a schema and zero new rows merely means nothing
// changed.
func (t *Table) Append(ctx context.Context, tableName string, schema *iceberg.Schema, src icparquet.RowIterator, opts icparquet.WriteOptions) (WriteResult, error) {
	exists, err := t.cat.TableExists(tableName)
	if err != nil {
		return WriteResult{}, err
	}
	if !exists {
		return WriteResult{}, errors.New(codeTableNotFound, "table does not exist", nil).AddContext("table", tableName)
	}

	prevMeta, err := t.cat.LoadTable(tableName)
	if err != nil {
		return WriteResult{}, err
	}

	var currentSchemaDoc []metadata.Field
	for _, s := range prevMeta.Schemas {
		if s.SchemaID == prevMeta.CurrentSchemaID {
			currentSchemaDoc = s.Fields
			break
		}
	}
	if !schemaMatches(currentSchemaDoc, schema) {
		return WriteResult{}, errors.New(codeSchemaMismatch,
			"append schema does not match the table's current schema; schema evolution is out of scope", nil).
			AddContext("table", tableName)
	}

	peeked := newPeekIterator(src)
	hasRows, err := peeked.peek(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	if !hasRows {
		prevSnapshot := int64(0)
		if prevMeta.CurrentSnapshotID != nil {
			prevSnapshot = *prevMeta.CurrentSnapshotID
		}
		t.logger.Info().Str("table", tableName).Msg("append called with zero rows; no-op")
		return WriteResult{SnapshotID: prevSnapshot, RowsWritten: 0, FilesWritten: 0}, nil
	}

	tablePath := t.cat.TablePath(tableName)

	written, err := icparquet.Write(ctx, schema, peeked, opts, func(index int) (string, error) {
		return filepath.Join(t.cat.DataDir(tableName), dataFileName(index)), nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	var rowsWritten int64
	entries := make([]avromf.ManifestEntry, 0, len(written))
	for _, f := range written {
		rowsWritten += f.RecordCount
		entries = append(entries, avromf.ManifestEntry{
			Status: avromf.StatusAdded,
			DataFile: avromf.DataFile{
				FilePath:        relToTableRoot(tablePath, f.Path),
				FileFormat:      avromf.FileFormatParquet,
				RecordCount:     f.RecordCount,
				FileSizeInBytes: f.SizeBytes,
			},
		})
	}

	snapshotID := newSnapshotID()
	manifestPath := filepath.Join(t.cat.MetadataDir(tableName), manifestFileName())
	if err := avromf.WriteManifest(manifestPath, withSnapshotID(entries, snapshotID)); err != nil {
		return WriteResult{}, err
	}

	// The new manifest list carries forward every manifest entry the
	// prior snapshot's manifest list referenced, plus exactly one new entry
	// for the manifest just written. Listing only the new manifest here
	// would make readers see only the latest append instead of the
	// cumulative table contents.
	var priorEntries []avromf.ManifestListEntry
	if prevMeta.CurrentSnapshotID != nil {
		priorManifestList := findSnapshotManifestList(prevMeta, *prevMeta.CurrentSnapshotID)
		priorEntries, err = avromf.ReadManifestList(filepath.Join(tablePath, priorManifestList))
		if err != nil {
			return WriteResult{}, err
		}
	}

	manifestInfo, statErr := fileInfo(manifestPath)
	if statErr != nil {
		return WriteResult{}, errors.Wrap(codeStatFailed, statErr, "statting manifest file")
	}
	newManifestList := append(append([]avromf.ManifestListEntry{}, priorEntries...), avromf.ManifestListEntry{
		ManifestPath:    relToTableRoot(tablePath, manifestPath),
		ManifestLength:  manifestInfo,
		PartitionSpecID: 0,
		AddedFilesCount: int32(len(entries)),
	})

	manifestListPath := filepath.Join(t.cat.MetadataDir(tableName), manifestListFileName())
	if err := avromf.WriteManifestList(manifestListPath, newManifestList); err != nil {
		return WriteResult{}, err
	}

	nextVersion, err := t.cat.NextVersion(tableName)
	if err != nil {
		return WriteResult{}, err
	}
	expectedPrev, err := t.cat.CurrentVersion(tableName)
	if err != nil {
		return WriteResult{}, err
	}

	nextMeta, err := metadata.AppendSnapshot(prevMeta, metadata.AppendSnapshotInput{
		SnapshotID:     snapshotID,
		SequenceNumber: lastSequenceNumber(prevMeta) + 1,
		ManifestList:   relToTableRoot(tablePath, manifestListPath),
		Summary: map[string]string{
			"operation":        "append",
			"added-data-files": itoa(len(entries)),
			"added-records":    itoa64(rowsWritten),
		},
		SchemaID: prevMeta.CurrentSchemaID,
		NowMs:    nowMs(),
	}, "v"+itoa(nextVersion)+".metadata.json")
	if err != nil {
		return WriteResult{}, err
	}

	if err := t.cat.Commit(tableName, nextMeta, nextVersion, expectedPrev); err != nil {
		return WriteResult{}, err
	}

	t.logger.Info().Str("table", tableName).Int64("snapshot_id", snapshotID).
		Int64("rows", rowsWritten).Int("files", len(written)).Msg("appended snapshot")

	return WriteResult{SnapshotID: snapshotID, RowsWritten: rowsWritten, FilesWritten: len(written)}, nil
}

// Read streams the rows of tableName's current snapshot. A table with no
// current snapshot yields the empty stream rather than an error.
func (t *Table) Read(ctx context.Context, tableName string) (icparquet.RowIterator, func() error, error) {
	meta, err := t.cat.LoadTable(tableName)
	if err != nil {
		return nil, nil, err
	}
	if meta.CurrentSnapshotID == nil {
		return icparquet.NewSliceIterator(nil), func() error { return nil }, nil
	}
	return t.ReadSnapshot(ctx, tableName, *meta.CurrentSnapshotID)
}

// ReadSnapshot streams the rows visible as of a named snapshot, resolved by
// walking its manifest list, then each manifest, then each data file, all
// in list order.
func (t *Table) ReadSnapshot(ctx context.Context, tableName string, snapshotID int64) (icparquet.RowIterator, func() error, error) {
	meta, err := t.cat.LoadTable(tableName)
	if err != nil {
		return nil, nil, err
	}

	manifestListRel := findSnapshotManifestList(meta, snapshotID)
	if manifestListRel == "" {
		return nil, nil, errors.New(codeSnapshotNotFound,
			"snapshot not found in table metadata", nil).
			AddContext("table", tableName).AddContext("snapshot_id", snapshotID)
	}

	schema, err := schemaForSnapshot(meta, snapshotID)
	if err != nil {
		return nil, nil, err
	}

	tablePath := t.cat.TablePath(tableName)
	manifestListEntries, err := avromf.ReadManifestList(filepath.Join(tablePath, manifestListRel))
	if err != nil {
		return nil, nil, err
	}

	var dataFiles []avromf.DataFile
	for _, mle := range manifestListEntries {
		entries, err := avromf.ReadManifest(filepath.Join(tablePath, mle.ManifestPath))
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			if e.Status == avromf.StatusAdded {
				dataFiles = append(dataFiles, e.DataFile)
			}
		}
	}

	it := &multiFileIterator{
		ctx:       ctx,
		tablePath: tablePath,
		files:     dataFiles,
		schema:    schema,
	}
	closer := func() error { return it.closeCurrent() }
	return it, closer, nil
}

// multiFileIterator streams rows across a snapshot's data files in manifest
// order, holding at most one Parquet file open at a time.
type multiFileIterator struct {
	ctx       context.Context
	tablePath string
	files     []avromf.DataFile
	schema    *iceberg.Schema

	fileIdx int
	current icparquet.RowIterator
	closeFn func() error
}

func (m *multiFileIterator) closeCurrent() error {
	if m.closeFn == nil {
		return nil
	}
	err := m.closeFn()
	m.closeFn = nil
	m.current = nil
	return err
}

func (m *multiFileIterator) Next(ctx context.Context) (icparquet.Row, bool, error) {
	for {
		if m.current == nil {
			if m.fileIdx >= len(m.files) {
				return nil, false, nil
			}
			path := filepath.Join(m.tablePath, m.files[m.fileIdx].FilePath)
			it, closer, err := icparquet.Read(ctx, path, m.schema)
			if err != nil {
				return nil, false, err
			}
			m.current = it
			m.closeFn = closer
			m.fileIdx++
		}

		row, ok, err := m.current.Next(ctx)
		if err != nil {
			m.closeCurrent()
			return nil, false, err
		}
		if !ok {
			if cerr := m.closeCurrent(); cerr != nil {
				return nil, false, cerr
			}
			continue
		}
		return row, true, nil
	}
}

func findSnapshotManifestList(meta *metadata.TableMetadata, snapshotID int64) string {
	for _, s := range meta.Snapshots {
		if s.SnapshotID == snapshotID {
			return s.ManifestList
		}
	}
	return ""
}

func schemaForSnapshot(meta *metadata.TableMetadata, snapshotID int64) (*iceberg.Schema, error) {
	var schemaID int
	found := false
	for _, s := range meta.Snapshots {
		if s.SnapshotID == snapshotID {
			schemaID = s.SchemaID
			found = true
			break
		}
	}
	if !found {
		return nil, errors.New(codeSnapshotNotFound, "snapshot not found", nil).
			AddContext("snapshot_id", snapshotID)
	}
	for _, s := range meta.Schemas {
		if s.SchemaID == schemaID {
			return fieldsToSchema(s), nil
		}
	}
	return nil, errors.New(codeSchemaNotFound, "schema referenced by snapshot not found", nil).
		AddContext("schema_id", schemaID)
}

func fieldsToSchema(s metadata.Schema) *iceberg.Schema {
	fields := make([]iceberg.NestedField, 0, len(s.Fields))
	for _, f := range s.Fields {
		fields = append(fields, iceberg.NestedField{
			ID:       f.ID,
			Name:     f.Name,
			Type:     typeFromName(f.Type),
			Required: f.Required,
		})
	}
	return iceberg.NewSchema(s.SchemaID, fields...)
}

func typeFromName(name string) iceberg.Type {
	switch name {
	case "boolean":
		return iceberg.PrimitiveTypes.Bool
	case "int":
		return iceberg.PrimitiveTypes.Int32
	case "long":
		return iceberg.PrimitiveTypes.Int64
	case "float":
		return iceberg.PrimitiveTypes.Float32
	case "double":
		return iceberg.PrimitiveTypes.Float64
	case "date":
		return iceberg.PrimitiveTypes.Date
	case "timestamp":
		return iceberg.PrimitiveTypes.Timestamp
	case "timestamptz":
		return iceberg.PrimitiveTypes.TimestampTz
	case "binary":
		return iceberg.PrimitiveTypes.Binary
	case "uuid":
		return iceberg.PrimitiveTypes.UUID
	default:
		return iceberg.PrimitiveTypes.String
	}
}

func lastSequenceNumber(meta *metadata.TableMetadata) int64 {
	if len(meta.Snapshots) == 0 {
		return 0
	}
	return meta.Snapshots[len(meta.Snapshots)-1].SequenceNumber
}

func withSnapshotID(entries []avromf.ManifestEntry, snapshotID int64) []avromf.ManifestEntry {
	out := make([]avromf.ManifestEntry, len(entries))
	for i, e := range entries {
		id := snapshotID
		e.SnapshotID = &id
		out[i] = e
	}
	return out
}

func dataFileName(index int) string {
	return newUUID() + ".parquet"
}

func manifestFileName() string {
	return newUUID() + ".avro"
}

func manifestListFileName() string {
	return "snap-" + newUUID() + ".avro"
}

// newSnapshotID mints a monotonic snapshot id from wall-clock nanoseconds,
// sufficient under the single-writer assumption without a central sequence
// allocator.
func newSnapshotID() int64 {
	return time.Now().UnixNano()
}

func relToTableRoot(tableRoot, path string) string {
	rel, err := filepath.Rel(tableRoot, path)
	if err != nil {
		return path
	}
	return rel
}

func fileInfo(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func itoa(n int) string {
	return itoa64(int64(n))
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
