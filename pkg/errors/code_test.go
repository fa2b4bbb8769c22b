package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	validCodes := []string{
		"filesystem.table_not_found",
		"memory.alloc_failed",
		"query.timeout",
		"storage.connection_failed",
		"api.rate_limit_exceeded",
	}
	for _, codeStr := range validCodes {
		t.Run(codeStr, func(t *testing.T) {
			code, err := NewCode(codeStr)
			require.NoError(t, err)
			assert.Equal(t, codeStr, code.String())
		})
	}

	invalidCodes := []string{
		"invalid",
		"filesystem.",
		".table_not_found",
		"FileSystem.table_not_found",
		"filesystem.table-not-found",
		"filesystem.table_not_found.",
		"filesystem..table_not_found",
		"error.table_not_found",
		"err.table_not_found",
	}
	for _, codeStr := range invalidCodes {
		t.Run(codeStr, func(t *testing.T) {
			_, err := NewCode(codeStr)
			assert.Error(t, err)
		})
	}
}

func TestMustNewCode(t *testing.T) {
	code := MustNewCode("filesystem.table_not_found")
	assert.Equal(t, "filesystem.table_not_found", code.String())

	assert.Panics(t, func() {
		MustNewCode("invalid")
	})
}

func TestCodePackageAndName(t *testing.T) {
	code := MustNewCode("filesystem.table_not_found")
	assert.Equal(t, "filesystem", code.Package())
	assert.Equal(t, "table_not_found", code.Name())
}

func TestCodeIsValid(t *testing.T) {
	assert.True(t, MustNewCode("filesystem.table_not_found").IsValid())
	assert.False(t, Code{value: "invalid"}.IsValid())
}

func TestCodeEquals(t *testing.T) {
	code1 := MustNewCode("filesystem.table_not_found")
	code2 := MustNewCode("filesystem.table_not_found")
	code3 := MustNewCode("memory.alloc_failed")

	assert.True(t, code1.Equals(code2))
	assert.False(t, code1.Equals(code3))
}

func TestPackageCode(t *testing.T) {
	custom := PackageCode("custom_package", "specific_failure")
	assert.Equal(t, "custom_package.specific_failure", custom.String())

	assert.Panics(t, func() {
		PackageCode("InvalidPackage", "reason")
	})
}

func TestDomainCodeConstructors(t *testing.T) {
	tests := []struct {
		name        string
		constructor func(string) Code
		reason      string
		expected    string
	}{
		{"iceberg", IcebergCode, "schema_mismatch", "iceberg.schema_mismatch"},
		{"catalog", CatalogCode, "commit_conflict", "catalog.commit_conflict"},
		{"parquet", ParquetCode, "invalid_row", "parquet.invalid_row"},
		{"avro", AvroCode, "decode_failed", "avro.decode_failed"},
		{"table", TableCode, "empty_input", "table.empty_input"},
		{"sync", SyncCode, "cancelled", "sync.cancelled"},
		{"merge", MergeCode, "staging_failed", "merge.staging_failed"},
		{"watermark", WatermarkCode, "io_failure", "watermark.io_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.constructor(tt.reason).String())
		})
	}
}

func TestCommonCodes(t *testing.T) {
	commonCodes := []Code{
		CommonInternal, CommonNotFound, CommonValidation, CommonTimeout,
		CommonUnauthorized, CommonForbidden, CommonConflict, CommonUnsupported,
		CommonInvalidInput, CommonAlreadyExists,
	}
	for _, code := range commonCodes {
		assert.True(t, code.IsValid())
		assert.Equal(t, "common", code.Package())
	}
}
