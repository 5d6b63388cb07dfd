/*
	Package source implements the byte source abstraction of spec section 6: a small, closed set of ways to get at
	MFT record slot bytes, named rather than open polymorphism since the set of kinds is fixed (spec §9).
*/
package source

import (
	"fmt"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/n9x/mfttimeline/bootsect"
	"github.com/n9x/mfttimeline/fragment"
	"github.com/n9x/mfttimeline/mft"
)

// Source is the capability the ingest pipeline consumes: total record count (or an upper bound), a synchronous
// read of one record slot, a hint of record size, and a Close to release whatever backs it (an mmap, an open
// file, nothing for an in-memory buffer).
type Source interface {
	// RecordCount returns the number of record slots the source believes it holds. For sources where the exact
	// count isn't known up front (a raw disk reader with an unbounded $MFT), this is an upper bound.
	RecordCount() int64
	// RecordSize returns the byte size of one record slot, as read from the $Boot sector or defaulted to 1024
	// (spec §3 "the actual size is read from the $Boot sector or inferred").
	RecordSize() int
	// ReadRecord reads exactly RecordSize() bytes for the given record number. A short read is reported as a
	// SourceIO error (spec §7) rather than returned as a partial slice.
	ReadRecord(recordNumber int64) ([]byte, error)
	// Close releases whatever resource backs the source. Safe to call once at the end of a run, on every exit
	// path (spec §5 "Resource lifetimes").
	Close() error
}

// defaultRecordSize is used when a source has no $Boot sector to consult (e.g. BufferSource over an already
// extracted $MFT with no accompanying volume metadata).
const defaultRecordSize = 1024

// SourceIOError wraps a failure to deliver the expected bytes for a record slot. ingest stops decoding the chunk
// containing the record at that slot, keeping the slots of that chunk decoded before it and every other chunk; the
// run as a whole goes on.
type SourceIOError struct {
	RecordNumber int64
	Err          error
}

func (e *SourceIOError) Error() string {
	return fmt.Sprintf("source: unable to read record %d: %v", e.RecordNumber, e.Err)
}

func (e *SourceIOError) Unwrap() error { return e.Err }

// MmapSource memory-maps a file and slices record-sized windows out of it directly, the way
// saferwall/pe's File.New maps a PE image with mmap.Map(f, mmap.RDONLY, 0) and slices its header out of the
// mapping rather than issuing reads.
type MmapSource struct {
	f          *os.File
	data       mmap.MMap
	recordSize int
}

// OpenMmap opens name and memory-maps it read-only as a raw $MFT extract. recordSize should come from a parsed
// bootsect.BootSector when available; pass 0 to use the 1024-byte default.
func OpenMmap(name string, recordSize int) (*MmapSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("source: unable to open %s: %w", name, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: unable to mmap %s: %w", name, err)
	}
	if recordSize <= 0 {
		recordSize = defaultRecordSize
	}
	return &MmapSource{f: f, data: data, recordSize: recordSize}, nil
}

func (s *MmapSource) RecordCount() int64 {
	return int64(len(s.data)) / int64(s.recordSize)
}

func (s *MmapSource) RecordSize() int { return s.recordSize }

func (s *MmapSource) ReadRecord(recordNumber int64) ([]byte, error) {
	start := recordNumber * int64(s.recordSize)
	end := start + int64(s.recordSize)
	if start < 0 || end > int64(len(s.data)) {
		return nil, &SourceIOError{RecordNumber: recordNumber, Err: fmt.Errorf("record range [%d,%d) exceeds mapped length %d", start, end, len(s.data))}
	}
	return s.data[start:end], nil
}

func (s *MmapSource) Close() error {
	if s.data != nil {
		_ = s.data.Unmap()
	}
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

// BufferSource wraps an already-materialized byte slice: the destination a GZIP/ZIP container adapter
// decompresses into before handing bytes to the core (spec §6 container adapters are external collaborators
// that adapt to this interface).
type BufferSource struct {
	data       []byte
	recordSize int
}

// NewBufferSource wraps data as a Source. Pass 0 for recordSize to use the 1024-byte default.
func NewBufferSource(data []byte, recordSize int) *BufferSource {
	if recordSize <= 0 {
		recordSize = defaultRecordSize
	}
	return &BufferSource{data: data, recordSize: recordSize}
}

func (s *BufferSource) RecordCount() int64 {
	return int64(len(s.data)) / int64(s.recordSize)
}

func (s *BufferSource) RecordSize() int { return s.recordSize }

func (s *BufferSource) ReadRecord(recordNumber int64) ([]byte, error) {
	start := recordNumber * int64(s.recordSize)
	end := start + int64(s.recordSize)
	if start < 0 || end > int64(len(s.data)) {
		return nil, &SourceIOError{RecordNumber: recordNumber, Err: fmt.Errorf("record range [%d,%d) exceeds buffer length %d", start, end, len(s.data))}
	}
	return s.data[start:end], nil
}

func (s *BufferSource) Close() error { return nil }

// RawDiskSource reads $MFT directly off a raw volume or image: it bootstraps from the $Boot sector to find
// $MFT's starting cluster, reads the $MFT's own record to learn its data runs, and serves record slots by
// seeking a fragment.Reader over those runs. This is the pattern cmd/mftdump's main() follows by hand; here it
// is the third named Source variant rather than one-off CLI code.
type RawDiskSource struct {
	volume     *os.File
	bootSector bootsect.BootSector
	reader     *fragment.Reader
	recordSize int
	totalBytes int64
}

// OpenRawDisk opens a raw volume or disk image path, reads its $Boot sector, locates and decodes the $MFT's own
// record, and prepares a fragment.Reader over the $MFT's data runs. The caller is responsible for supplying a
// path the process has permission to open read-only; a permission failure here is a fatal SourceIO condition
// per spec §7, not recoverable per-record.
func OpenRawDisk(volumePath string) (*RawDiskSource, error) {
	f, err := os.Open(volumePath)
	if err != nil {
		return nil, fmt.Errorf("source: unable to open volume %s: %w", volumePath, err)
	}

	bootSectorData := make([]byte, 512)
	if _, err := io.ReadFull(f, bootSectorData); err != nil {
		f.Close()
		return nil, fmt.Errorf("source: unable to read boot sector: %w", err)
	}
	bootSector, err := bootsect.Parse(bootSectorData)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: unable to parse boot sector: %w", err)
	}

	bytesPerCluster := bootSector.BytesPerSector * bootSector.SectorsPerCluster
	mftOffset := int64(bootSector.MftClusterNumber) * int64(bytesPerCluster)
	recordSize := bootSector.FileRecordSegmentSizeInBytes
	if recordSize <= 0 {
		recordSize = defaultRecordSize
	}

	mftRecordData := make([]byte, recordSize)
	if _, err := f.ReadAt(mftRecordData, mftOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("source: unable to read $MFT's own record: %w", err)
	}

	mftRecord, outcome, err := mft.ParseRecord(mftRecordData, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: unable to parse $MFT's own record: %w", err)
	}
	if outcome != mft.OutcomeRecord {
		f.Close()
		return nil, fmt.Errorf("source: $MFT's own record slot at offset %d is empty", mftOffset)
	}

	dataAttrs := mftRecord.FindAttributes(mft.AttributeTypeData)
	if len(dataAttrs) == 0 {
		f.Close()
		return nil, fmt.Errorf("source: $MFT record has no $DATA attribute")
	}
	dataAttr := dataAttrs[0]

	var frags []fragment.Fragment
	totalBytes := int64(0)
	if dataAttr.Resident {
		frags = []fragment.Fragment{{Offset: mftOffset, Length: int64(len(dataAttr.Data))}}
		totalBytes = int64(len(dataAttr.Data))
	} else {
		runs, err := mft.ParseDataRuns(dataAttr.Data)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("source: unable to parse $MFT dataruns: %w", err)
		}
		frags = mft.DataRunsToFragments(runs, bytesPerCluster)
		for _, frag := range frags {
			totalBytes += frag.Length
		}
	}

	return &RawDiskSource{
		volume:     f,
		bootSector: bootSector,
		reader:     fragment.NewReader(f, frags),
		recordSize: recordSize,
		totalBytes: totalBytes,
	}, nil
}

func (s *RawDiskSource) RecordCount() int64 {
	return s.totalBytes / int64(s.recordSize)
}

func (s *RawDiskSource) RecordSize() int { return s.recordSize }

// ReadRecord requires recordNumber == the next sequential slot: fragment.Reader is a single forward-only cursor
// shared by every call, not safe for concurrent use. RequiresSequentialAccess reports this so ingest.Run only
// ever drives a RawDiskSource from one worker at a time; random access (as MmapSource/BufferSource allow) isn't
// available here.
func (s *RawDiskSource) ReadRecord(recordNumber int64) ([]byte, error) {
	buf := make([]byte, s.recordSize)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, &SourceIOError{RecordNumber: recordNumber, Err: err}
	}
	return buf, nil
}

// RequiresSequentialAccess reports true: ReadRecord must be called by a single goroutine, in increasing
// record-number order, since it advances one shared fragment.Reader cursor with no locking of its own.
// ingest.Run type-asserts for this to force a single-worker run instead of racing goroutines against it.
func (s *RawDiskSource) RequiresSequentialAccess() bool { return true }

func (s *RawDiskSource) Close() error {
	return s.volume.Close()
}
