/*
	Package entry turns an mft.Record plus its extension records into a DecodedEntry: the data model of spec section
	3, one layer above the raw header/attribute bytes mft decodes. It does not know about paths (that is
	package resolve) or about byte sources (that is package source) — it only knows how to fold a base record and
	zero or more extension records into one immutable value.
*/
package entry

import (
	"time"

	"github.com/n9x/mfttimeline/mft"
)

// CorruptionFlag notes a degraded merge; distinct from mft.CorruptionFlag since it covers faults that only exist
// once attributes from more than one record are combined.
type CorruptionFlag uint32

const (
	// AttrListCycle means following ATTRIBUTE_LIST references revisited a (record_number, attribute_id) pair
	// already seen; the extension chain was cut short but attributes merged so far are kept.
	AttrListCycle CorruptionFlag = 1 << iota
	// ExtensionUnavailable means an ATTRIBUTE_LIST entry pointed at a record number the index didn't resolve
	// (not yet decoded, or beyond the decoded prefix in single-pass mode).
	ExtensionUnavailable
)

// Is reports whether c has every bit of other set.
func (c CorruptionFlag) Is(other CorruptionFlag) bool {
	return c&other == other
}

// unsetZero/unsetExhausted are the time.Time values mft.ConvertFileTime produces for the two raw sentinels
// (0 and 0xFFFF…FFFF) that mean "unset" per spec §3 invariant 4. Comparing against these lets this package work
// entirely in time.Time without re-deriving the raw 100-ns tick count.
var (
	unsetZero      = mft.ConvertFileTime(0)
	unsetExhausted = mft.ConvertFileTime(^uint64(0))
)

// IsSetTime reports whether t is a real timestamp rather than one of the two NTFS "unset" sentinels.
func IsSetTime(t time.Time) bool {
	return !t.Equal(unsetZero) && !t.Equal(unsetExhausted)
}

// Stream is one named $DATA attribute: an alternate data stream when Name is non-empty, or the primary data
// stream when Name is empty.
type Stream struct {
	Name          string
	Size          uint64
	AllocatedSize uint64
}

// Timestamps groups the four timestamp kinds shared by both STANDARD_INFORMATION and FILE_NAME attributes.
type Timestamps struct {
	Created    time.Time
	Modified   time.Time
	MftChanged time.Time
	Accessed   time.Time
}

// FileNameAttribute is a decoded $FILE_NAME attribute kept on a DecodedEntry, carrying the attribute id it was
// read at (needed to break namespace-preference ties per spec §4.1 "Ties broken by earlier attribute-id").
type FileNameAttribute struct {
	AttributeID int
	Namespace   mft.FileNameNamespace
	ParentRef   mft.FileReference
	FileName    string
	Timestamps  Timestamps
}

// DecodedEntry is the data model of one MFT record, merged across any extension records referenced from its
// ATTRIBUTE_LIST. It is built once by Decode/MergeExtensions and never mutated afterward.
type DecodedEntry struct {
	RecordNumber   uint64
	SequenceNumber uint16
	InUse          bool
	IsDirectory    bool
	BaseRecordRef  mft.FileReference
	IsExtension    bool

	Names        []FileNameAttribute
	SITimestamps Timestamps
	HasSI        bool

	SizeLogical   uint64
	SizeAllocated uint64
	ADS           []Stream

	Corruption      mft.CorruptionFlag
	EntryCorruption CorruptionFlag
}

// Decode builds a DecodedEntry from a single mft.Record, without following any ATTRIBUTE_LIST references. Call
// MergeExtensions afterward if the record carries one and extension records are available.
func Decode(record mft.Record) DecodedEntry {
	e := DecodedEntry{
		RecordNumber:   record.RecordNumber,
		SequenceNumber: record.FileReference.SequenceNumber,
		InUse:          record.Flags.Is(mft.RecordFlagInUse),
		IsDirectory:    record.Flags.Is(mft.RecordFlagIsDirectory),
		BaseRecordRef:  record.BaseRecordReference,
		IsExtension:    record.BaseRecordReference.RecordNumber != 0,
		Corruption:     record.Corruption,
	}
	applyAttributes(&e, record.Attributes)
	return e
}

// applyAttributes folds one record's worth of attributes into e. Safe to call more than once for the same entry,
// which is how MergeExtensions accumulates attributes contributed by extension records.
func applyAttributes(e *DecodedEntry, attrs []mft.Attribute) {
	for _, a := range attrs {
		switch a.Type {
		case mft.AttributeTypeStandardInformation:
			si, err := mft.ParseStandardInformation(a.Data)
			if err != nil {
				continue
			}
			e.HasSI = true
			e.SITimestamps = Timestamps{
				Created:    si.Creation,
				Modified:   si.FileLastModified,
				MftChanged: si.MftLastModified,
				Accessed:   si.LastAccess,
			}
		case mft.AttributeTypeFileName:
			fn, err := mft.ParseFileName(a.Data)
			if err != nil {
				continue
			}
			e.Names = append(e.Names, FileNameAttribute{
				AttributeID: a.AttributeId,
				Namespace:   fn.Namespace,
				ParentRef:   fn.ParentFileReference,
				FileName:    fn.Name,
				Timestamps: Timestamps{
					Created:    fn.Creation,
					Modified:   fn.FileLastModified,
					MftChanged: fn.MftLastModified,
					Accessed:   fn.LastAccess,
				},
			})
		case mft.AttributeTypeData:
			size, allocated := a.ActualSize, a.AllocatedSize
			if a.Resident {
				size = uint64(len(a.Data))
				allocated = size
			}
			if a.Name == "" {
				e.SizeLogical = size
				e.SizeAllocated = allocated
				continue
			}
			e.ADS = append(e.ADS, Stream{Name: a.Name, Size: size, AllocatedSize: allocated})
		}
	}
}

// namespacePriority ranks namespaces for display-name selection per spec §4.1: Win32+DOS, Win32, and POSIX are
// all preferred over DOS, and are otherwise tied with each other (broken by attribute id below).
func namespacePriority(ns mft.FileNameNamespace) int {
	switch ns {
	case mft.NamespaceDos:
		return 1
	default:
		return 0
	}
}

// DisplayName picks the name spec §4.1 calls for: the first name whose namespace is not DOS-only; if every name
// is DOS-only, the DOS name is used. Ties within the same priority tier are broken by earlier attribute id. An
// entry with no names returns a zero FileNameAttribute and false.
func (e DecodedEntry) DisplayName() (FileNameAttribute, bool) {
	if len(e.Names) == 0 {
		return FileNameAttribute{}, false
	}
	best := e.Names[0]
	bestPriority := namespacePriority(best.Namespace)
	for _, n := range e.Names[1:] {
		p := namespacePriority(n.Namespace)
		if p < bestPriority || (p == bestPriority && n.AttributeID < best.AttributeID) {
			best = n
			bestPriority = p
		}
	}
	return best, true
}

// RecordLookup resolves a record number to its parsed mft.Record, used by MergeExtensions to fetch extension
// records named by an ATTRIBUTE_LIST. It mirrors the lazy record_number → byte_offset index spec §4.2 describes;
// how that index is built (full MFT buffer, single-pass streaming prefix) is the caller's concern, not entry's.
type RecordLookup func(recordNumber uint64) (mft.Record, bool)

// MergeExtensions follows every ATTRIBUTE_LIST attribute on the base record through lookup, merging each
// extension record's attributes into e. A visited set of (record_number, attribute_id) pairs breaks cycles: once
// an entry is revisited, that branch is abandoned and AttrListCycle is set, but attributes merged before the
// cycle was detected are kept (spec §4.2).
func MergeExtensions(e DecodedEntry, base mft.Record, lookup RecordLookup) DecodedEntry {
	lists := base.FindAttributes(mft.AttributeTypeAttributeList)
	if len(lists) == 0 {
		return e
	}

	type visitKey struct {
		recordNumber uint64
		attributeID  uint16
	}
	visited := map[visitKey]bool{}

	for _, listAttr := range lists {
		entries, err := mft.ParseAttributeList(listAttr.Data)
		if err != nil {
			continue
		}
		for _, le := range entries {
			if le.BaseRecordReference.RecordNumber == base.RecordNumber {
				// The base record's own attributes are already folded in by Decode.
				continue
			}
			key := visitKey{le.BaseRecordReference.RecordNumber, le.AttributeId}
			if visited[key] {
				e.EntryCorruption |= AttrListCycle
				continue
			}
			visited[key] = true

			extRecord, ok := lookup(le.BaseRecordReference.RecordNumber)
			if !ok {
				e.EntryCorruption |= ExtensionUnavailable
				continue
			}
			if extRecord.FileReference.SequenceNumber != le.BaseRecordReference.SequenceNumber {
				e.EntryCorruption |= ExtensionUnavailable
				continue
			}
			applyAttributes(&e, extRecord.Attributes)
			e.Corruption |= extRecord.Corruption
		}
	}
	return e
}
