/*
	Package resolve implements the parent-chain path resolver of spec section 4.3: given a decoded set of entries
	(or a streaming prefix, in single-pass mode), it turns a record number into an absolute directory path string,
	tolerating orphaned, stale, and cyclic parent references rather than failing the lookup.
*/
package resolve

import (
	"fmt"
	"strings"

	"github.com/n9x/mfttimeline/mft"
)

// rootRecordNumber is the well-known record number of the MFT root directory; its display contribution is empty
// (spec §4.3 "The MFT root is record 5 and terminates the walk").
const rootRecordNumber = 5

// maxDepth bounds a single resolution walk; NTFS itself limits path depth to 255 (spec §4.3 "Cycle detection").
const maxDepth = 255

// indexEntry is what the index remembers about one record for path resolution: its own sequence number (to
// detect stale references to it), its parent link, its display name, and whether it is a directory.
type indexEntry struct {
	sequenceNumber uint16
	parentRef      mft.FileReference
	displayName    string
	isDirectory    bool
	pending        bool
}

// Index is the read-only structure spec §4.3 calls for: "(record_number) → (parent_ref, parent_seq, display_name,
// is_directory)". It is built once (or incrementally, in single-pass mode) and then queried any number of times.
type Index struct {
	entries map[uint64]indexEntry
	cache   map[uint64]string
}

// NewIndex creates an empty Index ready for Add calls.
func NewIndex() *Index {
	return &Index{
		entries: make(map[uint64]indexEntry),
		cache:   make(map[uint64]string),
	}
}

// Add records one entry's own sequence number, chosen display name, and parent link in the index. It is safe to
// call Add again for a record number already indexed (single-pass mode resolves a pending marker this way once
// the real entry streams in); doing so invalidates that record's cache entry.
func (idx *Index) Add(recordNumber uint64, sequenceNumber uint16, parentRef mft.FileReference, displayName string, isDirectory bool) {
	idx.entries[recordNumber] = indexEntry{
		sequenceNumber: sequenceNumber,
		parentRef:      parentRef,
		displayName:    displayName,
		isDirectory:    isDirectory,
	}
	delete(idx.cache, recordNumber)
}

// AddPending records that recordNumber was referenced as a parent before its own entry streamed in. Single-pass
// mode uses this so Resolve can still return something (a [pending] marker) instead of treating the reference
// as a genuine orphan; the second pass (after InvalidateCache) retries these once Add has been called for real.
func (idx *Index) AddPending(recordNumber uint64) {
	if _, ok := idx.entries[recordNumber]; ok {
		return
	}
	idx.entries[recordNumber] = indexEntry{pending: true}
}

// Resolve walks the parent chain starting at ref and returns the absolute path string, memoizing per record
// number. The sequence number carried in ref is checked against the index's stored value at traversal time, not
// at cache lookup, per spec §4.3 "Caching" ("to avoid stale-cache pollution").
func (idx *Index) Resolve(ref mft.FileReference) string {
	return idx.resolve(ref, 0)
}

func (idx *Index) resolve(ref mft.FileReference, depth int) string {
	if ref.RecordNumber == rootRecordNumber {
		return ""
	}
	if depth >= maxDepth {
		return "[cycle]"
	}

	e, ok := idx.entries[ref.RecordNumber]
	if !ok {
		return fmt.Sprintf("[orphan:%d]", ref.RecordNumber)
	}
	if e.pending {
		return fmt.Sprintf("[pending:%d]", ref.RecordNumber)
	}
	if e.sequenceNumber != ref.SequenceNumber {
		return fmt.Sprintf("[stale:%d]", ref.RecordNumber)
	}

	if cached, ok := idx.cache[ref.RecordNumber]; ok {
		return cached
	}

	parentPath := idx.resolve(e.parentRef, depth+1)
	path := joinPath(parentPath, e.displayName)
	idx.cache[ref.RecordNumber] = path
	return path
}

func joinPath(parent, name string) string {
	if strings.HasPrefix(parent, "[") {
		return parent
	}
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// PendingRecordNumbers returns every record number still marked pending, for the single-pass second pass (spec
// §4.3 "the assembler reruns resolution once ingest completes for entries whose paths referenced pending
// parents").
func (idx *Index) PendingRecordNumbers() []uint64 {
	var pending []uint64
	for recordNumber, e := range idx.entries {
		if e.pending {
			pending = append(pending, recordNumber)
		}
	}
	return pending
}

// InvalidateCache drops every memoized path. Call this once between the single-pass streaming phase and the
// retrospective second pass, since any path computed while parents were still pending may now resolve
// differently.
func (idx *Index) InvalidateCache() {
	idx.cache = make(map[uint64]string)
}
