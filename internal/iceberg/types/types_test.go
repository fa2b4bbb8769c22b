package types

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/iceberg-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icerrors "github.com/icereplica/coreflow/pkg/errors"
)

func TestMapRelationalType(t *testing.T) {
	tests := []struct {
		name     string
		rel      RelationalType
		expected iceberg.Type
	}{
		{"boolean", RelBoolean, iceberg.PrimitiveTypes.Bool},
		{"smallint", RelSmallInt, iceberg.PrimitiveTypes.Int32},
		{"integer", RelInteger, iceberg.PrimitiveTypes.Int32},
		{"bigint", RelBigInt, iceberg.PrimitiveTypes.Int64},
		{"real", RelReal, iceberg.PrimitiveTypes.Float32},
		{"double precision", RelDouble, iceberg.PrimitiveTypes.Float64},
		{"decimal widens to double", RelDecimal, iceberg.PrimitiveTypes.Float64},
		{"char", RelChar, iceberg.PrimitiveTypes.String},
		{"varchar", RelVarchar, iceberg.PrimitiveTypes.String},
		{"text", RelText, iceberg.PrimitiveTypes.String},
		{"date", RelDate, iceberg.PrimitiveTypes.Date},
		{"timestamp", RelTimestamp, iceberg.PrimitiveTypes.Timestamp},
		{"timestamptz", RelTimestampTz, iceberg.PrimitiveTypes.TimestampTz},
		{"binary", RelBinary, iceberg.PrimitiveTypes.Binary},
		{"uuid", RelUUID, iceberg.PrimitiveTypes.UUID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MapRelationalType(tt.rel)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMapRelationalType_Unknown(t *testing.T) {
	_, err := MapRelationalType(RelationalType("money"))
	require.Error(t, err)
	assert.Equal(t, "iceberg.unmapped_relational_type", icerrors.GetCode(err))
}

func TestSchemaBuilder_AssignsStableFieldIDs(t *testing.T) {
	b := NewSchemaBuilder(0)
	_, err := b.AddColumn("order_id", RelInteger, false)
	require.NoError(t, err)
	_, err = b.AddColumn("customer_id", RelInteger, true)
	require.NoError(t, err)
	_, err = b.AddColumn("amount", RelDouble, false)
	require.NoError(t, err)

	schema, err := b.Build()
	require.NoError(t, err)

	fields := schema.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, 1, fields[0].ID)
	assert.Equal(t, 2, fields[1].ID)
	assert.Equal(t, 3, fields[2].ID)
	assert.True(t, fields[0].Required)
	assert.False(t, fields[1].Required)
	assert.Equal(t, 3, MaxFieldID(schema))
}

func TestSchemaBuilder_RejectsEmptySchema(t *testing.T) {
	_, err := NewSchemaBuilder(0).Build()
	require.Error(t, err)
}

func TestSchemaBuilder_PropagatesMappingError(t *testing.T) {
	_, err := NewSchemaBuilder(0).AddColumn("weird", RelationalType("money"), false)
	require.Error(t, err)
}

func TestToArrowType(t *testing.T) {
	tests := []struct {
		name     string
		in       iceberg.Type
		expected arrow.DataType
	}{
		{"bool", iceberg.PrimitiveTypes.Bool, arrow.FixedWidthTypes.Boolean},
		{"int32", iceberg.PrimitiveTypes.Int32, arrow.PrimitiveTypes.Int32},
		{"int64", iceberg.PrimitiveTypes.Int64, arrow.PrimitiveTypes.Int64},
		{"float32", iceberg.PrimitiveTypes.Float32, arrow.PrimitiveTypes.Float32},
		{"float64", iceberg.PrimitiveTypes.Float64, arrow.PrimitiveTypes.Float64},
		{"string", iceberg.PrimitiveTypes.String, arrow.BinaryTypes.String},
		{"binary", iceberg.PrimitiveTypes.Binary, arrow.BinaryTypes.Binary},
		{"date", iceberg.PrimitiveTypes.Date, arrow.FixedWidthTypes.Date32},
		{"timestamp is microsecond precision", iceberg.PrimitiveTypes.Timestamp, arrow.FixedWidthTypes.Timestamp_us},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToArrowType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("timestamptz carries UTC zone", func(t *testing.T) {
		got, err := ToArrowType(iceberg.PrimitiveTypes.TimestampTz)
		require.NoError(t, err)
		ts, ok := got.(*arrow.TimestampType)
		require.True(t, ok)
		assert.Equal(t, arrow.Microsecond, ts.Unit)
		assert.Equal(t, "UTC", ts.TimeZone)
	})

	t.Run("uuid is a 16-byte fixed binary", func(t *testing.T) {
		got, err := ToArrowType(iceberg.PrimitiveTypes.UUID)
		require.NoError(t, err)
		fb, ok := got.(*arrow.FixedSizeBinaryType)
		require.True(t, ok)
		assert.Equal(t, 16, fb.ByteWidth)
	})
}

func TestArrowField_CarriesFieldIDMetadataKey(t *testing.T) {
	field := iceberg.NestedField{ID: 7, Name: "amount", Type: iceberg.PrimitiveTypes.Float64, Required: true}

	af, err := ArrowField(field)
	require.NoError(t, err)

	assert.Equal(t, "amount", af.Name)
	assert.False(t, af.Nullable)

	v, ok := af.Metadata.GetValue(FieldIDKey)
	require.True(t, ok)
	assert.Equal(t, "7", v)
}

func TestArrowSchema(t *testing.T) {
	schema := iceberg.NewSchema(0,
		iceberg.NestedField{ID: 1, Name: "id", Type: iceberg.PrimitiveTypes.Int64, Required: true},
		iceberg.NestedField{ID: 2, Name: "name", Type: iceberg.PrimitiveTypes.String, Required: false},
	)

	as, err := ArrowSchema(schema)
	require.NoError(t, err)
	require.Equal(t, 2, as.NumFields())
	assert.Equal(t, "id", as.Field(0).Name)
	assert.Equal(t, "name", as.Field(1).Name)
	assert.True(t, as.Field(1).Nullable)
}
