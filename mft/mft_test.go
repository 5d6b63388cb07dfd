package mft_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n9x/mfttimeline/fragment"
	"github.com/n9x/mfttimeline/mft"
)

func TestParseRecordFixup(t *testing.T) {
	input := decodeHex(t, "46494c4530000300755762ef19000000150002003800010098020000000400000000000000000000060000002a0000000c000000000000001000000060000000000000000000000048000000180000007e31192b21d6d50186468bb40eded4012e7d4e954dcbd5016c7f192b21d6d5012000040000000000000000000000000000000000161300000000000000000000a068d14a05000000300000007800000000000000000003005a000000180001003b000000000009007e31192b21d6d5017e31192b21d6d5017e31192b21d6d5017e31192b21d6d5010020040000000000000000000000000020000000000000000c0249004e0054004c00500052007e0031002e0044004c004c000000000000003000000080000000000000000000020062000000180001003b000000000009007e31192b21d6d5017e31192b21d6d5017e31192b21d6d5017e31192b21d6d501002004000000000000000000000000002000000000000000100149006e0074006c00500072006f00760069006400650072002e0064006c006c00000000000000800000004800000001000000000001000000000000000000410000000000000040000000000000000020040000000000381704000000000038170400000000004142f46ea0000000d00000002000000000000000000004000800000018000000780000007c000000e000000098000c0000000000000005007c000000180000007c000000000f64002443492e434154414c4f4748494e5400010060004d6963726f736f66742d57696e646f77732d436c69656e742d4465736b746f702d52657175697265642d5061636b616765303431367e333162663338353661643336346533357e616d6436347e7e31302e302e31383336322e3539322e63617400000000ffffffff82794711000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000c00")

	record, outcome, err := mft.ParseRecord(input, 42)
	require.Nilf(t, err, "error parsing record: %v", err)
	assert.Equal(t, mft.OutcomeRecord, outcome)
	assert.Equal(t, mft.CorruptionFlag(0), record.Corruption, "a well-formed record should report no corruption")
	assert.Equal(t, uint64(42), record.RecordNumber)
	assert.True(t, record.Flags.Is(mft.RecordFlagInUse))

	names := record.FindAttributes(mft.AttributeTypeFileName)
	assert.Len(t, names, 2)
}

func TestParseRecordUnknownSignatureIsEmptySlot(t *testing.T) {
	input := make([]byte, 1024)
	copy(input, []byte("\x00\x00\x00\x00"))

	record, outcome, err := mft.ParseRecord(input, 7)
	require.Nil(t, err)
	assert.Equal(t, mft.OutcomeEmpty, outcome)
	assert.Equal(t, mft.Record{}, record)
}

func TestParseRecordBaadSignatureIsStillEmptySlotButCounted(t *testing.T) {
	input := make([]byte, 1024)
	copy(input, []byte("BAAD"))

	_, outcome, err := mft.ParseRecord(input, 7)
	require.Nil(t, err)
	assert.Equal(t, mft.OutcomeEmpty, outcome, "BAAD is surfaced as SlotEmpty like any other unrecognized-for-decoding signature")
}

func TestParseRecordTooShortIsHeaderMalformed(t *testing.T) {
	input := []byte("FILE")

	_, _, err := mft.ParseRecord(input, 1)
	require.Error(t, err)
	var headerErr *mft.HeaderMalformedError
	assert.ErrorAs(t, err, &headerErr)
}

func TestParseRecordUsedSizeExceedsAllocatedSizeIsHeaderMalformed(t *testing.T) {
	input := make([]byte, 1024)
	copy(input, []byte("FILE"))
	// ActualSize (0x18) > AllocatedSize (0x1C)
	putUint32(input, 0x18, 2000)
	putUint32(input, 0x1C, 1024)

	_, _, err := mft.ParseRecord(input, 1)
	require.Error(t, err)
}

func TestParseFileReference(t *testing.T) {
	ref, err := mft.ParseFileReference([]byte{26, 179, 6, 0, 0, 0, 45, 0})
	require.Nilf(t, err, "error parsing reference: %v", err)
	expected := mft.FileReference{RecordNumber: 439066, SequenceNumber: 45}
	assert.Equal(t, expected, ref)
}

func TestRecordFlag(t *testing.T) {
	f := mft.RecordFlag(0)
	assert.False(t, f.Is(mft.RecordFlagInUse))
	assert.False(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))

	f = mft.RecordFlag(3)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.True(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))
}

func TestParseDataRuns(t *testing.T) {
	input := decodeHex(t, "3320c80000000c42e061a4b54507330dc8006fedb142365db3d89cfb32802b3a045b433d830054029301000000000000")

	runs, err := mft.ParseDataRuns(input)
	require.Nilf(t, err, "error parsing dataruns: %v", err)

	expected := []mft.DataRun{
		{OffsetCluster: 786432, LengthInClusters: 51232},
		{OffsetCluster: 122008996, LengthInClusters: 25056},
		{OffsetCluster: -5116561, LengthInClusters: 51213},
		{OffsetCluster: -73606989, LengthInClusters: 23862},
		{OffsetCluster: 5964858, LengthInClusters: 11136},
		{OffsetCluster: 26411604, LengthInClusters: 33597},
	}

	assert.Equal(t, expected, runs)
}

func TestDataRunsToFragments(t *testing.T) {
	runs := []mft.DataRun{
		{OffsetCluster: 5521, LengthInClusters: 1337},
		{OffsetCluster: -4408, LengthInClusters: 42},
		{OffsetCluster: 7708, LengthInClusters: 13},
	}

	fragments := mft.DataRunsToFragments(runs, 512)
	expected := []fragment.Fragment{
		{Offset: 2826752, Length: 684544},
		{Offset: 569856, Length: 21504},
		{Offset: 4516352, Length: 6656},
	}

	assert.Equal(t, expected, fragments)
}

func decodeHex(t *testing.T, s string) []byte {
	input, err := hex.DecodeString(s)
	require.Nilf(t, err, "unable to convert input hex to []byte: %v", err)
	return input
}

func putUint32(b []byte, offset int, v uint32) {
	b[offset] = byte(v)
	b[offset+1] = byte(v >> 8)
	b[offset+2] = byte(v >> 16)
	b[offset+3] = byte(v >> 24)
}
