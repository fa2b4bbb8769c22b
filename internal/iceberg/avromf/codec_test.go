package avromf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest-1.avro")

	entries := []ManifestEntry{
		{
			Status:     StatusAdded,
			SnapshotID: int64p(42),
			DataFile: DataFile{
				FilePath:        "data/a.parquet",
				FileFormat:      FileFormatParquet,
				Partition:       nil,
				RecordCount:     100,
				FileSizeInBytes: 2048,
			},
		},
		{
			Status:     StatusAdded,
			SnapshotID: int64p(42),
			DataFile: DataFile{
				FilePath:        "data/b.parquet",
				FileFormat:      FileFormatParquet,
				Partition:       map[string]string{"region": "us"},
				RecordCount:     50,
				FileSizeInBytes: 1024,
			},
		},
	}

	require.NoError(t, WriteManifest(path, entries))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "data/a.parquet", got[0].DataFile.FilePath)
	assert.Equal(t, int32(StatusAdded), got[0].Status)
	assert.Equal(t, int64(42), *got[0].SnapshotID)
	assert.Equal(t, "us", got[1].DataFile.Partition["region"])
}

func TestManifest_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.avro")

	require.NoError(t, WriteManifest(path, nil))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManifestList_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap-1.avro")

	entries := []ManifestListEntry{
		{ManifestPath: "metadata/m1.avro", ManifestLength: 512, PartitionSpecID: 0, AddedFilesCount: 3},
		{ManifestPath: "metadata/m2.avro", ManifestLength: 256, PartitionSpecID: 0, AddedFilesCount: 1},
	}

	require.NoError(t, WriteManifestList(path, entries))

	got, err := ReadManifestList(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "metadata/m1.avro", got[0].ManifestPath)
	assert.Equal(t, int32(3), got[0].AddedFilesCount)
	assert.Equal(t, "metadata/m2.avro", got[1].ManifestPath)
}

func TestManifestList_CumulativeAcrossSnapshots(t *testing.T) {
	dir := t.TempDir()

	first := []ManifestListEntry{
		{ManifestPath: "metadata/m1.avro", ManifestLength: 100, AddedFilesCount: 1},
	}
	second := append(append([]ManifestListEntry{}, first...),
		ManifestListEntry{ManifestPath: "metadata/m2.avro", ManifestLength: 100, AddedFilesCount: 1})

	p1 := filepath.Join(dir, "snap-1.avro")
	p2 := filepath.Join(dir, "snap-2.avro")
	require.NoError(t, WriteManifestList(p1, first))
	require.NoError(t, WriteManifestList(p2, second))

	got, err := ReadManifestList(p2)
	require.NoError(t, err)
	require.Len(t, got, 2, "snapshot 2's manifest list must include snapshot 1's manifest plus its own")
}
