package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"walvault/internal/compression"
	"walvault/internal/fs"
)

// ManifestName is the manifest file name inside the archive directory.
const ManifestName = "MANIFEST.json"

const manifestVersion = 1

// Entry records one archived segment.
type Entry struct {
	// Segment is the id of the archived segment
	Segment SegmentID `json:"segment_id"`

	// ArrivalTime is when the segment first reached the archive
	ArrivalTime time.Time `json:"arrival_time"`

	// SizeBytes is the stored (possibly compressed) size
	SizeBytes int64 `json:"size_bytes"`

	// SHA256 is the checksum of the uncompressed payload
	SHA256 string `json:"sha256"`

	// Compression is the algorithm the segment is stored with
	Compression string `json:"compression"`
}

// FileName returns the on-disk name of the entry's segment file.
func (e Entry) FileName() string {
	algo, err := compression.ParseAlgorithm(e.Compression)
	if err != nil {
		algo = compression.AlgorithmNone
	}
	return SegmentFileName(e.Segment, algo)
}

// manifest is the on-disk shape of MANIFEST.json.
type manifest struct {
	Version  int     `json:"version"`
	Segments []Entry `json:"segments"`
}

// loadManifest reads the manifest from an archive directory. A missing
// manifest (or missing directory) is an empty archive, not an error.
func loadManifest(dir string) (*manifest, error) {
	data, err := fs.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return &manifest{Version: manifestVersion}, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// save writes the manifest atomically so readers never observe a torn file.
func (m *manifest) save(dir string) error {
	m.sortByID()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fs.WriteFileAtomic(filepath.Join(dir, ManifestName), data, 0600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (m *manifest) sortByID() {
	sort.Slice(m.Segments, func(i, j int) bool {
		return m.Segments[i].Segment < m.Segments[j].Segment
	})
}

func (m *manifest) find(id SegmentID) (Entry, bool) {
	for _, e := range m.Segments {
		if e.Segment == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (m *manifest) add(e Entry) {
	m.Segments = append(m.Segments, e)
	m.sortByID()
}

func (m *manifest) remove(id SegmentID) {
	for i, e := range m.Segments {
		if e.Segment == id {
			m.Segments = append(m.Segments[:i], m.Segments[i+1:]...)
			return
		}
	}
}

// head returns the highest archived id, SegmentNone when empty.
func (m *manifest) head() SegmentID {
	head := SegmentNone
	for _, e := range m.Segments {
		if e.Segment > head {
			head = e.Segment
		}
	}
	return head
}
