// Package avromf is the Avro manifest and manifest-list codec: it writes
// and reads the two Avro object-container files that make up an Iceberg
// snapshot's file listing, using the exact field-ids the wire format
// requires.
package avromf

// ManifestEntrySchema is the Avro record schema for a single entry in a
// manifest file: one data file added to a snapshot. This module never emits
// "existing" or "deleted" entries since it never produces delete files;
// every entry this codec writes carries status=1 (ADDED).
const ManifestEntrySchema = `{
	"type": "record",
	"name": "manifest_entry",
	"namespace": "coreflow.iceberg",
	"fields": [
		{"name": "status", "type": "int", "field-id": 0},
		{"name": "snapshot_id", "type": ["null", "long"], "field-id": 1},
		{"name": "data_file", "field-id": 2, "type": {
			"type": "record",
			"name": "data_file",
			"fields": [
				{"name": "file_path", "type": "string", "field-id": 100},
				{"name": "file_format", "type": "string", "field-id": 101},
				{"name": "partition", "type": ["null", {"type": "map", "values": "string"}], "field-id": 102},
				{"name": "record_count", "type": "long", "field-id": 103},
				{"name": "file_size_in_bytes", "type": "long", "field-id": 104}
			]
		}}
	]
}`

// ManifestListEntrySchema is the Avro record schema for a single entry in a
// manifest-list file: one manifest belonging to a snapshot.
const ManifestListEntrySchema = `{
	"type": "record",
	"name": "manifest_file",
	"namespace": "coreflow.iceberg",
	"fields": [
		{"name": "manifest_path", "type": "string", "field-id": 500},
		{"name": "manifest_length", "type": "long", "field-id": 501},
		{"name": "partition_spec_id", "type": "int", "field-id": 502},
		{"name": "added_files_count", "type": "int", "field-id": 511}
	]
}`

// StatusAdded is the only manifest-entry status this codec ever writes.
const StatusAdded = 1

// FileFormatParquet is the only data-file format this module produces.
const FileFormatParquet = "PARQUET"

// DataFile mirrors the data_file Avro record.
type DataFile struct {
	FilePath        string            `avro:"file_path"`
	FileFormat      string            `avro:"file_format"`
	Partition       map[string]string `avro:"partition"`
	RecordCount     int64             `avro:"record_count"`
	FileSizeInBytes int64             `avro:"file_size_in_bytes"`
}

// ManifestEntry mirrors the manifest_entry Avro record.
type ManifestEntry struct {
	Status     int32    `avro:"status"`
	SnapshotID *int64   `avro:"snapshot_id"`
	DataFile   DataFile `avro:"data_file"`
}

// ManifestListEntry mirrors the manifest_file Avro record referenced from a
// manifest-list file.
type ManifestListEntry struct {
	ManifestPath    string `avro:"manifest_path"`
	ManifestLength  int64  `avro:"manifest_length"`
	PartitionSpecID int32  `avro:"partition_spec_id"`
	AddedFilesCount int32  `avro:"added_files_count"`
}
