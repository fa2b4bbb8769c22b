// Package catalog is the filesystem-backed Iceberg catalog: one directory
// per table under a warehouse root, an atomically-committed metadata JSON
// document per version, and a version-hint file naming the current one.
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/icereplica/coreflow/internal/iceberg/metadata"
	"github.com/icereplica/coreflow/pkg/errors"
)

const (
	dataDirName        = "data"
	metadataDirName    = "metadata"
	versionHintFile    = "version-hint.txt"
	dirPermissions     = 0755
	filePermissions    = 0644
)

var (
	codeTableNotFound   = errors.CatalogCode("table_not_found")
	codeAlreadyExists   = errors.CatalogCode("table_already_exists")
	codeCommitConflict  = errors.CatalogCode("commit_conflict")
	codeIoError         = errors.CatalogCode("io_failure")
	codeInvalidVersion  = errors.CatalogCode("invalid_version_hint")
)

// Catalog roots every table under a single warehouse directory. Every
// metadata write goes through a write-temp-fsync-rename sequence so readers
// only ever observe fully written files.
type Catalog struct {
	warehouseRoot string
}

func New(warehouseRoot string) *Catalog {
	return &Catalog{warehouseRoot: warehouseRoot}
}

func (c *Catalog) TablePath(tableName string) string {
	return filepath.Join(c.warehouseRoot, tableName)
}

func (c *Catalog) DataDir(tableName string) string {
	return filepath.Join(c.TablePath(tableName), dataDirName)
}

func (c *Catalog) MetadataDir(tableName string) string {
	return filepath.Join(c.TablePath(tableName), metadataDirName)
}

func (c *Catalog) versionHintPath(tableName string) string {
	return filepath.Join(c.MetadataDir(tableName), versionHintFile)
}

func (c *Catalog) metadataFilePath(tableName string, version int) string {
	return filepath.Join(c.MetadataDir(tableName), "v"+strconv.Itoa(version)+".metadata.json")
}

// TableExists reports whether tableName has been initialized: a
// version-hint.txt present under its metadata directory.
func (c *Catalog) TableExists(tableName string) (bool, error) {
	_, err := os.Stat(c.versionHintPath(tableName))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(codeIoError, err, "checking table existence for %q", tableName)
}

// InitializeTable lays out a brand new table's directories and writes its
// v1 metadata document plus version-hint.txt. It refuses to run against an
// already-initialized table.
func (c *Catalog) InitializeTable(tableName string, meta *metadata.TableMetadata) error {
	exists, err := c.TableExists(tableName)
	if err != nil {
		return err
	}
	if exists {
		return errors.New(codeAlreadyExists, "table already initialized", nil).AddContext("table", tableName)
	}

	if err := os.MkdirAll(c.DataDir(tableName), dirPermissions); err != nil {
		return errors.Wrapf(codeIoError, err, "creating data directory for %q", tableName)
	}
	if err := os.MkdirAll(c.MetadataDir(tableName), dirPermissions); err != nil {
		return errors.Wrapf(codeIoError, err, "creating metadata directory for %q", tableName)
	}

	if err := writeJSONAtomic(c.metadataFilePath(tableName, 1), meta); err != nil {
		return errors.Wrapf(codeIoError, err, "writing initial metadata for %q", tableName)
	}
	if err := writeFileAtomic(c.versionHintPath(tableName), []byte("1")); err != nil {
		return errors.Wrapf(codeIoError, err, "writing version-hint for %q", tableName)
	}
	return nil
}

// CurrentVersion returns the version number named by version-hint.txt.
func (c *Catalog) CurrentVersion(tableName string) (int, error) {
	data, err := os.ReadFile(c.versionHintPath(tableName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.New(codeTableNotFound, "table not found", err).AddContext("table", tableName)
		}
		return 0, errors.Wrapf(codeIoError, err, "reading version-hint for %q", tableName)
	}
	version, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil {
		return 0, errors.Wrapf(codeInvalidVersion, convErr, "parsing version-hint for %q", tableName)
	}
	return version, nil
}

// LoadTable reads the table's current metadata document.
func (c *Catalog) LoadTable(tableName string) (*metadata.TableMetadata, error) {
	version, err := c.CurrentVersion(tableName)
	if err != nil {
		return nil, err
	}
	return c.loadVersion(tableName, version)
}

func (c *Catalog) loadVersion(tableName string, version int) (*metadata.TableMetadata, error) {
	path := c.metadataFilePath(tableName, version)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(codeTableNotFound, "table not found", err).AddContext("table", tableName).AddContext("version", version)
		}
		return nil, errors.Wrapf(codeIoError, err, "reading metadata version %d for %q", version, tableName)
	}
	var meta metadata.TableMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(codeIoError, err, "parsing metadata version %d for %q", version, tableName)
	}
	return &meta, nil
}

// NextVersion returns the version number a new commit against tableName
// should use: the table's current version plus one.
func (c *Catalog) NextVersion(tableName string) (int, error) {
	current, err := c.CurrentVersion(tableName)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

// Commit writes meta as version newVersion and advances version-hint.txt
// to point at it, in two write-temp-fsync-rename steps. The rename of
// version-hint.txt is the linearisation point of the commit.
// expectedPreviousVersion guards against a concurrent writer:
// if the on-disk version-hint no longer matches it, the commit is refused
// with CommitConflict rather than silently overwriting a newer version.
func (c *Catalog) Commit(tableName string, meta *metadata.TableMetadata, newVersion, expectedPreviousVersion int) error {
	current, err := c.CurrentVersion(tableName)
	if err != nil {
		return err
	}
	if current != expectedPreviousVersion {
		return errors.New(codeCommitConflict,
			"table was modified concurrently; version-hint no longer matches the expected previous version", nil).
			AddContext("table", tableName).
			AddContext("expected_previous_version", expectedPreviousVersion).
			AddContext("actual_current_version", current)
	}

	if err := writeJSONAtomic(c.metadataFilePath(tableName, newVersion), meta); err != nil {
		return errors.Wrapf(codeIoError, err, "writing metadata version %d for %q", newVersion, tableName)
	}
	if err := writeFileAtomic(c.versionHintPath(tableName), []byte(strconv.Itoa(newVersion))); err != nil {
		return errors.Wrapf(codeIoError, err, "advancing version-hint for %q", tableName)
	}
	return nil
}

// writeFileAtomic writes data to a temp file beside path, fsyncs it, then
// renames it into place. A crash at any point leaves either the old file
// or the new one, never a torn mix.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
