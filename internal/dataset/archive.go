package dataset

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alignment-data/runmatch/internal/monitoring"
)

// archive is the on-disk form of a dataset: one gzip-compressed JSON
// document holding the matrix, labels, schema, and audit metadata.
type archive struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Dataset
}

const archiveVersion = 1

// Save writes the dataset to path as a single portable archive.
func (d *Dataset) Save(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset archive: %w", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(archive{
		Version:   archiveVersion,
		CreatedAt: time.Now().UTC(),
		Dataset:   *d,
	}); err != nil {
		return fmt.Errorf("encode dataset archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close dataset archive: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		monitoring.Logf("[dataset] saved %d samples to %s (%d KB)",
			len(d.X), path, info.Size()/1024)
	}
	return nil
}

// Load reads a dataset archive written by Save and validates its shape
// against the embedded schema.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset archive: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read dataset archive: %w", err)
	}
	defer zr.Close()

	var a archive
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode dataset archive: %w", err)
	}
	if a.Version != archiveVersion {
		return nil, fmt.Errorf("dataset archive version %d not supported", a.Version)
	}
	d := a.Dataset
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
