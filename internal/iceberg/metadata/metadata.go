// Package metadata builds and advances the Iceberg table metadata JSON
// document: the format-version-2 structure every catalog commit writes,
// with its schema list, snapshot history, and the two append-only logs
// that track how the table got to its current state.
package metadata

import (
	"github.com/apache/iceberg-go"

	icetypes "github.com/icereplica/coreflow/internal/iceberg/types"
	"github.com/icereplica/coreflow/pkg/errors"
)

const FormatVersion = 2

type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
}

type Schema struct {
	SchemaID int     `json:"schema-id"`
	Type     string  `json:"type"`
	Fields   []Field `json:"fields"`
}

type PartitionSpec struct {
	SpecID int                      `json:"spec-id"`
	Fields []map[string]interface{} `json:"fields"`
}

type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary"`
	SchemaID         int               `json:"schema-id"`
}

type SnapshotLogEntry struct {
	TimestampMs int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

type MetadataLogEntry struct {
	TimestampMs  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// TableMetadata is the full Iceberg v2 table metadata document. It is
// treated as an immutable value throughout this module: every operation
// that changes it returns a new *TableMetadata rather than mutating one
// in place, so a failed commit can never leave a caller holding a
// half-updated document.
type TableMetadata struct {
	FormatVersion    int                `json:"format-version"`
	TableUUID        string             `json:"table-uuid"`
	Location         string             `json:"location"`
	LastUpdatedMs    int64              `json:"last-updated-ms"`
	LastColumnID     int                `json:"last-column-id"`
	Schemas          []Schema           `json:"schemas"`
	CurrentSchemaID  int                `json:"current-schema-id"`
	PartitionSpecs   []PartitionSpec    `json:"partition-specs"`
	DefaultSpecID    int                `json:"default-spec-id"`
	LastPartitionID  int                `json:"last-partition-id"`
	Properties       map[string]string  `json:"properties,omitempty"`
	Snapshots        []Snapshot         `json:"snapshots"`
	CurrentSnapshotID *int64            `json:"current-snapshot-id"`
	SnapshotLog      []SnapshotLogEntry `json:"snapshot-log"`
	MetadataLog      []MetadataLogEntry `json:"metadata-log"`
}

var (
	codeEmptySchema        = errors.IcebergCode("metadata_empty_schema")
	codeNonMonotonicSeq    = errors.IcebergCode("non_monotonic_sequence_number")
	codeUnknownSchemaID    = errors.IcebergCode("unknown_schema_id")
)

func icebergTypeName(t iceberg.Type) string {
	switch t {
	case iceberg.PrimitiveTypes.Bool:
		return "boolean"
	case iceberg.PrimitiveTypes.Int32:
		return "int"
	case iceberg.PrimitiveTypes.Int64:
		return "long"
	case iceberg.PrimitiveTypes.Float32:
		return "float"
	case iceberg.PrimitiveTypes.Float64:
		return "double"
	case iceberg.PrimitiveTypes.String:
		return "string"
	case iceberg.PrimitiveTypes.Date:
		return "date"
	case iceberg.PrimitiveTypes.Timestamp:
		return "timestamp"
	case iceberg.PrimitiveTypes.TimestampTz:
		return "timestamptz"
	case iceberg.PrimitiveTypes.Binary:
		return "binary"
	case iceberg.PrimitiveTypes.UUID:
		return "uuid"
	default:
		return "string"
	}
}

func toSchemaDoc(schema *iceberg.Schema) Schema {
	fields := make([]Field, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		fields = append(fields, Field{
			ID:       f.ID,
			Name:     f.Name,
			Required: f.Required,
			Type:     icebergTypeName(f.Type),
		})
	}
	return Schema{SchemaID: schema.ID, Type: "struct", Fields: fields}
}

// CreateInitial produces the metadata document for a brand new table: a
// single schema, no snapshots, an empty current-snapshot-id. It is pure:
// tableUUID and nowMs are supplied by the caller rather than generated
// internally, so the same inputs always produce the same document.
func CreateInitial(schema *iceberg.Schema, location, tableUUID string, nowMs int64) (*TableMetadata, error) {
	if len(schema.Fields()) == 0 {
		return nil, errors.New(codeEmptySchema, "cannot create table metadata with an empty schema", nil)
	}
	return &TableMetadata{
		FormatVersion:   FormatVersion,
		TableUUID:       tableUUID,
		Location:        location,
		LastUpdatedMs:   nowMs,
		LastColumnID:    icetypes.MaxFieldID(schema),
		Schemas:         []Schema{toSchemaDoc(schema)},
		CurrentSchemaID: schema.ID,
		PartitionSpecs:  []PartitionSpec{{SpecID: 0, Fields: []map[string]interface{}{}}},
		DefaultSpecID:   0,
		LastPartitionID: 999,
		Snapshots:       nil,
		CurrentSnapshotID: nil,
		SnapshotLog:     nil,
		MetadataLog:     nil,
	}, nil
}

// AppendSnapshotInput carries everything AppendSnapshot needs to produce
// the next metadata document, beyond the previous document itself.
type AppendSnapshotInput struct {
	SnapshotID     int64
	SequenceNumber int64
	ManifestList   string
	Summary        map[string]string
	SchemaID       int
	NowMs          int64
}

// AppendSnapshot returns a new metadata document with one more snapshot
// appended to prev, both logs extended, and current-snapshot-id advanced.
// It rejects a sequence number that does not strictly increase over the
// table's current maximum and a schema-id the document doesn't
// recognize. prev is never mutated.
func AppendSnapshot(prev *TableMetadata, in AppendSnapshotInput, metadataFileName string) (*TableMetadata, error) {
	var maxSeq int64 = -1
	var parent *int64
	if len(prev.Snapshots) > 0 {
		last := prev.Snapshots[len(prev.Snapshots)-1]
		maxSeq = last.SequenceNumber
		id := last.SnapshotID
		parent = &id
	}
	if in.SequenceNumber <= maxSeq {
		return nil, errors.New(codeNonMonotonicSeq,
			"new snapshot's sequence number must be strictly greater than the table's current maximum", nil).
			AddContext("new_sequence_number", in.SequenceNumber).
			AddContext("current_max_sequence_number", maxSeq)
	}

	schemaFound := false
	for _, s := range prev.Schemas {
		if s.SchemaID == in.SchemaID {
			schemaFound = true
			break
		}
	}
	if !schemaFound {
		return nil, errors.New(codeUnknownSchemaID, "snapshot references a schema-id not present in table metadata", nil).
			AddContext("schema_id", in.SchemaID)
	}

	next := &TableMetadata{
		FormatVersion:     prev.FormatVersion,
		TableUUID:         prev.TableUUID,
		Location:          prev.Location,
		LastUpdatedMs:     in.NowMs,
		LastColumnID:      prev.LastColumnID,
		Schemas:           append([]Schema{}, prev.Schemas...),
		CurrentSchemaID:   prev.CurrentSchemaID,
		PartitionSpecs:    append([]PartitionSpec{}, prev.PartitionSpecs...),
		DefaultSpecID:     prev.DefaultSpecID,
		LastPartitionID:   prev.LastPartitionID,
		Properties:        prev.Properties,
		Snapshots:         append(append([]Snapshot{}, prev.Snapshots...), Snapshot{
			SnapshotID:       in.SnapshotID,
			ParentSnapshotID: parent,
			SequenceNumber:   in.SequenceNumber,
			TimestampMs:      in.NowMs,
			ManifestList:     in.ManifestList,
			Summary:          in.Summary,
			SchemaID:         in.SchemaID,
		}),
		CurrentSnapshotID: &in.SnapshotID,
		SnapshotLog: append(append([]SnapshotLogEntry{}, prev.SnapshotLog...), SnapshotLogEntry{
			TimestampMs: in.NowMs,
			SnapshotID:  in.SnapshotID,
		}),
		MetadataLog: append(append([]MetadataLogEntry{}, prev.MetadataLog...), MetadataLogEntry{
			TimestampMs:  in.NowMs,
			MetadataFile: metadataFileName,
		}),
	}
	return next, nil
}
