/*
	Package mft parses the binary structure of NTFS Master File Table ($MFT) records: the record header, its
	fixup-protected sectors, and the attribute header stream that follows. It does not know what an "entry" or a
	"path" is — those concepts live in the entry and resolve packages, one layer up. This package only turns bytes
	into the fields the NTFS on-disk format defines, and it is built to keep going when those bytes are damaged.

	Basic usage

		record, outcome, err := mft.ParseRecord(slotBytes, recordNumber)
		if err != nil {
			// HeaderMalformed: the record is unusable
		}
		if outcome == mft.OutcomeEmpty {
			// sparse or never-allocated slot, not an error
		}
		attrs := record.FindAttributes(mft.AttributeTypeFileName)
*/
package mft

import (
	"bytes"
	"fmt"

	"github.com/n9x/mfttimeline/binutil"
)

var (
	fileSignature = []byte{0x46, 0x49, 0x4c, 0x45} // "FILE"
	baadSignature = []byte{0x42, 0x41, 0x41, 0x44} // "BAAD"
)

const maxInt = int64(^uint(0) >> 1)

// minHeaderSize is the number of bytes needed to read every fixed header field this package consumes.
const minHeaderSize = 0x30

// Outcome classifies a slot before any attribute is inspected.
type Outcome int

const (
	// OutcomeRecord means the slot held a signature this package recognizes and ParseRecord produced a Record.
	OutcomeRecord Outcome = iota
	// OutcomeEmpty means the slot's signature was not "FILE": a sparse or never-allocated slot, or a "BAAD"
	// record. This is not an error condition.
	OutcomeEmpty
)

// CorruptionFlag notes which sub-parse of a record failed to complete cleanly. A non-zero CorruptionFlag does not
// mean the Record is useless; fields parsed before the failure are still populated.
type CorruptionFlag uint32

const (
	// CorruptionFixupMismatch means a sector's last two bytes did not match the update sequence number; that
	// sector's original bytes could not be restored and were left as found.
	CorruptionFixupMismatch CorruptionFlag = 1 << iota
	// CorruptionTruncatedAttribute means attribute iteration stopped early because an attribute's declared
	// length was zero or would read past the record's used size. Attributes already parsed are kept.
	CorruptionTruncatedAttribute
	// CorruptionBaadSighted means the record's signature was "BAAD" rather than "FILE". ParseRecord reports such a
	// slot as OutcomeEmpty and sets this flag on the otherwise empty Record it returns, so callers can count how
	// often damaged-but-labeled records occur (see spec open question on BAAD vs. sparse slots).
	CorruptionBaadSighted
)

// Is reports whether c has every bit of other set.
func (c CorruptionFlag) Is(other CorruptionFlag) bool {
	return c&other == other
}

// A Record represents an MFT entry's header and raw attribute stream, excluding the attributes' own data, which is
// parsed separately by attributes.go.
type Record struct {
	RecordNumber          uint64
	Signature             []byte
	FileReference         FileReference
	BaseRecordReference   FileReference
	LogFileSequenceNumber uint64
	HardLinkCount         int
	Flags                 RecordFlag
	ActualSize            uint32
	AllocatedSize         uint32
	NextAttributeId       int
	Attributes            []Attribute
	Corruption            CorruptionFlag
}

// HeaderMalformedError is returned by ParseRecord when the record's own header fields are internally inconsistent
// (used_size > allocated_size, or first_attribute_offset beyond used_size) or too short to contain a header at
// all. A Record with this error is always zero-valued; there is nothing safe to salvage from it.
type HeaderMalformedError struct {
	Reason string
}

func (e *HeaderMalformedError) Error() string {
	return fmt.Sprintf("mft: header malformed: %s", e.Reason)
}

// ParseRecord parses bytes into a Record after applying fixup. The data is assumed to be in Little Endian order.
// Only attribute headers are parsed, not attribute data.
//
// When the signature is not "FILE", ParseRecord returns OutcomeEmpty with a nil error: this is not an error, it is
// a sparse or never-allocated slot. For a "BAAD" signature the returned Record carries only RecordNumber and
// CorruptionBaadSighted; for any other signature it is Record{}. When the header's own size fields are inconsistent, it returns
// a *HeaderMalformedError. Any other problem (a fixup mismatch, a truncated attribute) is recorded in the
// returned Record's Corruption field rather than returned as an error; the record is still usable.
func ParseRecord(b []byte, recordNumber uint64) (Record, Outcome, error) {
	if len(b) < minHeaderSize {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: fmt.Sprintf("record data length should be at least %d but is %d", minHeaderSize, len(b))}
	}

	sig := b[:4]
	var corruption CorruptionFlag
	switch {
	case bytes.Equal(sig, fileSignature):
		// recognized, in-use record
	case bytes.Equal(sig, baadSignature):
		// surfaced as an empty slot like any other non-FILE signature, but flagged so callers can count it
		return Record{RecordNumber: recordNumber, Corruption: CorruptionBaadSighted}, OutcomeEmpty, nil
	default:
		return Record{}, OutcomeEmpty, nil
	}

	b = binutil.Duplicate(b)
	r := binutil.NewLittleEndianReader(b)

	usedSize := r.Uint32(0x18)
	allocatedSize := r.Uint32(0x1C)
	if usedSize > allocatedSize {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: fmt.Sprintf("used size %d exceeds allocated size %d", usedSize, allocatedSize)}
	}
	if int64(usedSize) > int64(len(b)) {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: fmt.Sprintf("used size %d exceeds record data length %d", usedSize, len(b))}
	}

	firstAttributeOffset := int(r.Uint16(0x14))
	if firstAttributeOffset < 0 || uint32(firstAttributeOffset) > usedSize {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: fmt.Sprintf("first attribute offset %d exceeds used size %d", firstAttributeOffset, usedSize)}
	}

	baseRecordRef, err := ParseFileReference(r.Read(0x20, 8))
	if err != nil {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: fmt.Sprintf("unable to parse base record reference: %v", err)}
	}

	updateSequenceOffset := int(r.Uint16(0x04))
	updateSequenceSize := int(r.Uint16(0x06))
	b, fixupMismatch, err := applyFixUp(b, updateSequenceOffset, updateSequenceSize)
	if err != nil {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: fmt.Sprintf("unable to read update sequence array: %v", err)}
	}
	if fixupMismatch {
		corruption |= CorruptionFixupMismatch
	}

	attributes, truncated, err := ParseAttributes(b[firstAttributeOffset:int(usedSize)])
	if err != nil {
		return Record{}, OutcomeRecord, &HeaderMalformedError{Reason: err.Error()}
	}
	if truncated {
		corruption |= CorruptionTruncatedAttribute
	}

	return Record{
		RecordNumber:          recordNumber,
		Signature:             binutil.Duplicate(sig),
		FileReference:         FileReference{RecordNumber: recordNumber, SequenceNumber: r.Uint16(0x10)},
		BaseRecordReference:   baseRecordRef,
		LogFileSequenceNumber: r.Uint64(0x08),
		HardLinkCount:         int(r.Uint16(0x12)),
		Flags:                 RecordFlag(r.Uint16(0x16)),
		ActualSize:            usedSize,
		AllocatedSize:         allocatedSize,
		NextAttributeId:       int(r.Uint16(0x28)),
		Attributes:            attributes,
		Corruption:            corruption,
	}, OutcomeRecord, nil
}

// A FileReference represents a reference to an MFT record. Since the FileReference in a Record is only 6 bytes of
// record number, the RecordNumber will probably not exceed 48 bits.
type FileReference struct {
	RecordNumber   uint64
	SequenceNumber uint16
}

// ParseFileReference parses a Little Endian ordered 8-byte slice into a FileReference. The first 6 bytes indicate
// the record number, the final 2 bytes indicate the sequence number.
func ParseFileReference(b []byte) (FileReference, error) {
	if len(b) != 8 {
		return FileReference{}, fmt.Errorf("expected 8 bytes but got %d", len(b))
	}

	return FileReference{
		RecordNumber:   binutil.NewLittleEndianReader(padTo(b[:6], 8)).Uint64(0),
		SequenceNumber: binutil.NewLittleEndianReader(b[6:]).Uint16(0),
	}, nil
}

// RecordFlag represents a bit mask flag indicating the status of the MFT record.
type RecordFlag uint16

// Bit values for the RecordFlag. For example, an in-use directory has value 0x0003.
const (
	RecordFlagInUse       RecordFlag = 0x0001
	RecordFlagIsDirectory RecordFlag = 0x0002
	RecordFlagInExtend    RecordFlag = 0x0004
	RecordFlagIsIndex     RecordFlag = 0x0008
)

// Is checks if this RecordFlag's bit mask contains the specified flag.
func (f RecordFlag) Is(c RecordFlag) bool {
	return f&c == c
}

// applyFixUp restores the two bytes at the end of each 512-byte sector that the update sequence array overwrote.
// Unlike a fail-closed implementation, a sentinel mismatch in one sector does not abort the whole record: that
// sector is left untouched, the mismatch is reported via the bool return, and every other sector is still fixed
// up.
func applyFixUp(b []byte, offset int, length int) ([]byte, bool, error) {
	r := binutil.NewLittleEndianReader(b)

	usaLength := length * 2 // length is in pairs, not bytes
	updateSequence, ok := r.TryRead(offset, usaLength)
	if !ok {
		return b, false, fmt.Errorf("update sequence array at offset %d length %d exceeds record data length %d", offset, usaLength, len(b))
	}
	if len(updateSequence) < 2 {
		return b, false, nil
	}
	updateSequenceNumber := updateSequence[:2]
	updateSequenceArray := updateSequence[2:]

	sectorCount := len(updateSequenceArray) / 2
	if sectorCount == 0 {
		return b, false, nil
	}
	sectorSize := len(b) / sectorCount

	mismatch := false
	for i := 1; i <= sectorCount; i++ {
		sectorEnd := sectorSize*i - 2
		if sectorEnd < 0 || sectorEnd+2 > len(b) {
			mismatch = true
			continue
		}
		if !bytes.Equal(updateSequenceNumber, b[sectorEnd:sectorEnd+2]) {
			mismatch = true
			continue
		}
		num := (i - 1) * 2
		copy(b[sectorEnd:sectorEnd+2], updateSequenceArray[num:num+2])
	}

	return b, mismatch, nil
}

// FindAttributes returns all attributes of the specified type contained in this record. When no matches are
// found an empty slice is returned.
func (r *Record) FindAttributes(attrType AttributeType) []Attribute {
	ret := make([]Attribute, 0)
	for _, a := range r.Attributes {
		if a.Type == attrType {
			ret = append(ret, a)
		}
	}
	return ret
}

func padTo(data []byte, length int) []byte {
	if len(data) >= length {
		return data
	}
	result := make([]byte, length)
	if len(data) == 0 {
		return result
	}
	copy(result, data)
	if data[len(data)-1]&0b10000000 == 0b10000000 {
		for i := len(data); i < length; i++ {
			result[i] = 0xFF
		}
	}
	return result
}
