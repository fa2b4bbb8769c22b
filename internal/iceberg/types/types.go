// Package types maps relational column types to the closed Iceberg logical
// type set used throughout this module, and from there to their Arrow
// physical representation.
package types

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/iceberg-go"

	"github.com/icereplica/coreflow/pkg/errors"
)

// RelationalType names a source-database column type in the closed set this
// module recognizes. Anything outside this set is rejected by MapRelationalType
// rather than guessed at.
type RelationalType string

const (
	RelBoolean     RelationalType = "boolean"
	RelSmallInt    RelationalType = "smallint"
	RelInteger     RelationalType = "integer"
	RelBigInt      RelationalType = "bigint"
	RelReal        RelationalType = "real"
	RelDouble      RelationalType = "double precision"
	RelDecimal     RelationalType = "decimal"
	RelChar        RelationalType = "char"
	RelVarchar     RelationalType = "varchar"
	RelText        RelationalType = "text"
	RelDate        RelationalType = "date"
	RelTimestamp   RelationalType = "timestamp"
	RelTimestampTz RelationalType = "timestamptz"
	RelBinary      RelationalType = "bytea"
	RelUUID        RelationalType = "uuid"
)

var codeUnmappedType = errors.IcebergCode("unmapped_relational_type")

// MapRelationalType is a pure, total function from the closed relational
// type set to an Iceberg primitive logical type. Decimal and double-precision
// columns both widen to float64; decimal precision loss is the documented
// trade-off of that widening.
func MapRelationalType(rel RelationalType) (iceberg.Type, error) {
	switch rel {
	case RelBoolean:
		return iceberg.PrimitiveTypes.Bool, nil
	case RelSmallInt, RelInteger:
		return iceberg.PrimitiveTypes.Int32, nil
	case RelBigInt:
		return iceberg.PrimitiveTypes.Int64, nil
	case RelReal:
		return iceberg.PrimitiveTypes.Float32, nil
	case RelDouble, RelDecimal:
		return iceberg.PrimitiveTypes.Float64, nil
	case RelChar, RelVarchar, RelText:
		return iceberg.PrimitiveTypes.String, nil
	case RelDate:
		return iceberg.PrimitiveTypes.Date, nil
	case RelTimestamp:
		return iceberg.PrimitiveTypes.Timestamp, nil
	case RelTimestampTz:
		return iceberg.PrimitiveTypes.TimestampTz, nil
	case RelBinary:
		return iceberg.PrimitiveTypes.Binary, nil
	case RelUUID:
		return iceberg.PrimitiveTypes.UUID, nil
	default:
		return nil, errors.New(codeUnmappedType,
			fmt.Sprintf("no Iceberg mapping for relational type %q", rel), nil).
			AddContext("relational_type", string(rel))
	}
}

// SchemaBuilder assigns stable, monotonically increasing field-ids to columns
// as they're declared: assigned once, never reused.
type SchemaBuilder struct {
	schemaID int
	nextID   int
	fields   []iceberg.NestedField
}

// NewSchemaBuilder starts a builder for the given schema-id, with field-ids
// allocated starting at 1.
func NewSchemaBuilder(schemaID int) *SchemaBuilder {
	return &SchemaBuilder{schemaID: schemaID, nextID: 1}
}

var codeEmptySchema = errors.IcebergCode("empty_schema")

// AddColumn maps rel to its Iceberg logical type, assigns it the next
// field-id, and appends it to the schema under construction.
func (b *SchemaBuilder) AddColumn(name string, rel RelationalType, nullable bool) (*SchemaBuilder, error) {
	t, err := MapRelationalType(rel)
	if err != nil {
		return nil, err
	}
	b.fields = append(b.fields, iceberg.NestedField{
		ID:       b.nextID,
		Name:     name,
		Type:     t,
		Required: !nullable,
	})
	b.nextID++
	return b, nil
}

// Build finalizes the schema. A schema with no columns is rejected here
// rather than downstream, since every caller of this builder needs at least
// one column to produce a meaningful Parquet file.
func (b *SchemaBuilder) Build() (*iceberg.Schema, error) {
	if len(b.fields) == 0 {
		return nil, errors.New(codeEmptySchema, "schema must declare at least one column", nil)
	}
	return iceberg.NewSchema(b.schemaID, b.fields...), nil
}

// MaxFieldID returns the highest field-id in schema, used to populate the
// table metadata document's last-column-id.
func MaxFieldID(schema *iceberg.Schema) int {
	max := 0
	for _, f := range schema.Fields() {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}

var codeUnsupportedIcebergType = errors.IcebergCode("unsupported_logical_type")

// ToArrowType converts an Iceberg primitive logical type to its Arrow
// physical representation. Only the closed primitive set above is
// supported; nested types (list/map/struct) are not.
func ToArrowType(t iceberg.Type) (arrow.DataType, error) {
	switch t {
	case iceberg.PrimitiveTypes.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case iceberg.PrimitiveTypes.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case iceberg.PrimitiveTypes.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case iceberg.PrimitiveTypes.Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case iceberg.PrimitiveTypes.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case iceberg.PrimitiveTypes.String:
		return arrow.BinaryTypes.String, nil
	case iceberg.PrimitiveTypes.Binary:
		return arrow.BinaryTypes.Binary, nil
	case iceberg.PrimitiveTypes.Date:
		return arrow.FixedWidthTypes.Date32, nil
	case iceberg.PrimitiveTypes.Timestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case iceberg.PrimitiveTypes.TimestampTz:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case iceberg.PrimitiveTypes.UUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	default:
		return nil, errors.New(codeUnsupportedIcebergType,
			fmt.Sprintf("unsupported Iceberg logical type: %v", t), nil)
	}
}

// FieldIDKey is the Arrow column metadata key carrying a column's stable
// Iceberg field-id, preserved end-to-end through the Parquet file's embedded
// Arrow schema. This is the literal key external Iceberg readers expect.
const FieldIDKey = "field_id"

// ParquetFieldIDKey is the metadata key arrow-go's pqarrow schema converter
// recognizes to set the Thrift-level Parquet SchemaElement field-id, so the
// identifier also survives for non-Arrow Parquet readers, not only the
// embedded-schema round-trip that FieldIDKey guarantees within this module.
// It is also the key pqarrow surfaces field-ids under when it reconstructs
// an Arrow schema from a file that carries no embedded one.
const ParquetFieldIDKey = "PARQUET:field_id"

// ArrowField converts a single Iceberg field to its Arrow equivalent,
// tagging it with FieldIDKey so the Parquet codec can round-trip identity by
// field-id rather than by column name or position.
func ArrowField(field iceberg.NestedField) (arrow.Field, error) {
	arrowType, err := ToArrowType(field.Type)
	if err != nil {
		return arrow.Field{}, errors.Wrapf(codeUnsupportedIcebergType, err,
			"converting field %q", field.Name)
	}
	return arrow.Field{
		Name:     field.Name,
		Type:     arrowType,
		Nullable: !field.Required,
		Metadata: arrow.MetadataFrom(map[string]string{
			FieldIDKey:        fmt.Sprintf("%d", field.ID),
			ParquetFieldIDKey: fmt.Sprintf("%d", field.ID),
		}),
	}, nil
}

// ArrowSchema converts a full Iceberg schema to its Arrow equivalent.
func ArrowSchema(schema *iceberg.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		af, err := ArrowField(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, af)
	}
	return arrow.NewSchema(fields, nil), nil
}
