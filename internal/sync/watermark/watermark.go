// Package watermark keeps a durable, per-table record of how far
// an incremental sync run has progressed, so the next run resumes exactly
// where the last one stopped.
package watermark

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/icereplica/coreflow/pkg/errors"
)

const watermarkDirName = ".watermarks"

var (
	codeIoError     = errors.WatermarkCode("io_failure")
	codeInvalidFile = errors.WatermarkCode("invalid_file")
)

// Watermark is the durable per-table progress record. LastSyncID
// carries the source-side watermark-column value the next run's query
// builder binds as its parameter; it is free-form because the
// watermark column itself can be a timestamp, an integer id, or anything
// else orderable. Metadata is an additive, caller-populated field (not part
// of the documented required JSON keys) mirroring a checkpoint-metadata
// pattern seen elsewhere in the replication-tooling ecosystem: unused by
// this module's own logic, available for callers to stash run-specific
// notes without widening the core record.
type Watermark struct {
	TableName           string            `json:"tableName"`
	LastSyncTimestamp   time.Time         `json:"lastSyncTimestamp"`
	LastSyncID          any               `json:"lastSyncId,omitempty"`
	LastIcebergSnapshot int64             `json:"lastIcebergSnapshot"`
	RowCount            int               `json:"rowCount"`
	CreatedAt           time.Time         `json:"createdAt"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Store persists one JSON file per table under {warehouse}/.watermarks/.
type Store struct {
	dir string
}

// New creates a Store rooted at warehouseDir/.watermarks. The directory is
// created lazily on first write, not at construction.
func New(warehouseDir string) *Store {
	return &Store{dir: filepath.Join(warehouseDir, watermarkDirName)}
}

func (s *Store) path(tableName string) string {
	return filepath.Join(s.dir, tableName+".json")
}

// Load returns the table's current watermark, or (nil, nil) if none has
// ever been written; a missing key is not an error.
func (s *Store) Load(tableName string) (*Watermark, error) {
	data, err := os.ReadFile(s.path(tableName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(codeIoError, err, "reading watermark for %q", tableName)
	}
	var w Watermark
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrapf(codeInvalidFile, err, "parsing watermark for %q", tableName)
	}
	return &w, nil
}

// Save overwrites the table's watermark atomically: a temp file is written
// and fsynced, then renamed into place, so a reader never observes a torn
// write. This is the same commit discipline the catalog uses for metadata.
func (s *Store) Save(w *Watermark) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrapf(codeIoError, err, "creating watermark directory")
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return errors.Wrapf(codeIoError, err, "encoding watermark for %q", w.TableName)
	}

	target := s.path(w.TableName)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(codeIoError, err, "creating temp watermark file for %q", w.TableName)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(codeIoError, err, "writing watermark for %q", w.TableName)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(codeIoError, err, "syncing watermark for %q", w.TableName)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(codeIoError, err, "closing watermark file for %q", w.TableName)
	}
	if err := os.Rename(tmp, target); err != nil {
		return errors.Wrapf(codeIoError, err, "renaming watermark file for %q", w.TableName)
	}
	return nil
}
