// Package wal implements the append-only WAL segment archive that backs
// point-in-time recovery.
//
// Archiving flow:
//  1. The engine produces WAL segments as transactions commit
//  2. archive_command (or the spool poller) hands each segment to the store
//  3. The store writes the segment durably, then records it in the manifest
//  4. On restore: base snapshot + archived segments = any point in time
//
// The manifest (MANIFEST.json) is the source of truth for what is archived.
// Segment files without a manifest entry are invisible leftovers from a
// crashed write and are overwritten on re-archive.
package wal

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"walvault/internal/compression"
)

// SegmentID identifies one WAL segment. IDs are ordinals assigned by the
// engine in commit order, so the numeric order is the replay order.
type SegmentID uint64

// SegmentNone marks the absence of a segment (empty archive head).
const SegmentNone SegmentID = 0

// String renders the id the way it appears in archive file names.
func (id SegmentID) String() string {
	return fmt.Sprintf("%016X", uint64(id))
}

// SegmentFileName returns the on-disk name for a segment, including the
// compression suffix when the archive compresses segments.
func SegmentFileName(id SegmentID, algo compression.Algorithm) string {
	return id.String() + compression.FileExtension(algo)
}

// segmentSize is the engine's WAL segment size. Ordinal ids advance one
// per segmentSize bytes of log, which is what ties an LSN to a segment.
const segmentSize = 16 * 1024 * 1024

// SegmentForLSN maps an engine LSN ("hi/lo", both hex) onto the segment
// holding it.
func SegmentForLSN(lsn string) (SegmentID, error) {
	slash := strings.IndexByte(lsn, '/')
	if slash <= 0 || slash == len(lsn)-1 {
		return SegmentNone, fmt.Errorf("not an lsn: %q", lsn)
	}
	hi, err := strconv.ParseUint(lsn[:slash], 16, 32)
	if err != nil {
		return SegmentNone, fmt.Errorf("not an lsn: %q", lsn)
	}
	lo, err := strconv.ParseUint(lsn[slash+1:], 16, 32)
	if err != nil {
		return SegmentNone, fmt.Errorf("not an lsn: %q", lsn)
	}
	return SegmentID((hi<<32 | lo) / segmentSize), nil
}

// ParseSegmentID extracts a segment id from a file name or path.
// Compression suffixes are tolerated: "00000000000000A3.zst" and
// "00000000000000A3" parse to the same id.
func ParseSegmentID(name string) (SegmentID, error) {
	base := compression.StripExtension(filepath.Base(name))
	if base == "" || len(base) > 16 || !isHexString(base) {
		return SegmentNone, fmt.Errorf("not a segment name: %q", name)
	}
	v, err := strconv.ParseUint(base, 16, 64)
	if err != nil {
		return SegmentNone, fmt.Errorf("not a segment name: %q", name)
	}
	if v == 0 {
		return SegmentNone, fmt.Errorf("segment id zero is reserved: %q", name)
	}
	return SegmentID(v), nil
}

// isHexString checks if a string contains only hex characters
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
