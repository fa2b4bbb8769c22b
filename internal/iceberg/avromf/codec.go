package avromf

import (
	"os"

	"github.com/hamba/avro/v2/ocf"

	"github.com/icereplica/coreflow/pkg/errors"
)

var (
	codeEncodeFailed = errors.AvroCode("encode_failed")
	codeDecodeFailed = errors.AvroCode("decode_failed")
	codeWriteFailed  = errors.AvroCode("write_failed")
	codeReadFailed   = errors.AvroCode("read_failed")
)

// WriteManifest writes entries as an Avro object-container file at path,
// one record per data file added to the snapshot this manifest belongs to.
func WriteManifest(path string, entries []ManifestEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(codeWriteFailed, err, "creating manifest file %s", path)
	}
	defer f.Close()

	enc, err := ocf.NewEncoder(ManifestEntrySchema, f)
	if err != nil {
		return errors.Wrapf(codeEncodeFailed, err, "creating manifest encoder for %s", path)
	}
	for i := range entries {
		if err := enc.Encode(entries[i]); err != nil {
			return errors.Wrapf(codeEncodeFailed, err, "encoding manifest entry %d in %s", i, path)
		}
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(codeEncodeFailed, err, "closing manifest encoder for %s", path)
	}
	return nil
}

// ReadManifest reads back every entry in the manifest file at path.
func ReadManifest(path string) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(codeReadFailed, err, "opening manifest file %s", path)
	}
	defer f.Close()

	dec, err := ocf.NewDecoder(f)
	if err != nil {
		return nil, errors.Wrapf(codeDecodeFailed, err, "creating manifest decoder for %s", path)
	}
	var entries []ManifestEntry
	for dec.HasNext() {
		var entry ManifestEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, errors.Wrapf(codeDecodeFailed, err, "decoding manifest entry in %s", path)
		}
		entries = append(entries, entry)
	}
	if err := dec.Error(); err != nil {
		return nil, errors.Wrapf(codeDecodeFailed, err, "reading manifest file %s", path)
	}
	return entries, nil
}

// WriteManifestList writes entries as an Avro object-container file at
// path: the cumulative list of every manifest belonging to a snapshot.
func WriteManifestList(path string, entries []ManifestListEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(codeWriteFailed, err, "creating manifest-list file %s", path)
	}
	defer f.Close()

	enc, err := ocf.NewEncoder(ManifestListEntrySchema, f)
	if err != nil {
		return errors.Wrapf(codeEncodeFailed, err, "creating manifest-list encoder for %s", path)
	}
	for i := range entries {
		if err := enc.Encode(entries[i]); err != nil {
			return errors.Wrapf(codeEncodeFailed, err, "encoding manifest-list entry %d in %s", i, path)
		}
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(codeEncodeFailed, err, "closing manifest-list encoder for %s", path)
	}
	return nil
}

// ReadManifestList reads back every manifest reference in the manifest-list
// file at path.
func ReadManifestList(path string) ([]ManifestListEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(codeReadFailed, err, "opening manifest-list file %s", path)
	}
	defer f.Close()

	dec, err := ocf.NewDecoder(f)
	if err != nil {
		return nil, errors.Wrapf(codeDecodeFailed, err, "creating manifest-list decoder for %s", path)
	}
	var entries []ManifestListEntry
	for dec.HasNext() {
		var entry ManifestListEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, errors.Wrapf(codeDecodeFailed, err, "decoding manifest-list entry in %s", path)
		}
		entries = append(entries, entry)
	}
	if err := dec.Error(); err != nil {
		return nil, errors.Wrapf(codeDecodeFailed, err, "reading manifest-list file %s", path)
	}
	return entries, nil
}
