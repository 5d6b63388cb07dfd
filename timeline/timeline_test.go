package timeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n9x/mfttimeline/entry"
	"github.com/n9x/mfttimeline/mft"
	"github.com/n9x/mfttimeline/timeline"
)

func TestAssembleEndToEndScenario1(t *testing.T) {
	e := entry.DecodedEntry{
		RecordNumber: 41,
		InUse:        true,
		HasSI: false,
		Names: []entry.FileNameAttribute{
			{
				AttributeID: 0,
				Namespace:   mft.NamespaceWin32,
				FileName:    "file.txt",
				Timestamps: entry.Timestamps{
					Created:    mft.ConvertFileTime(132000000000000000),
					Modified:   mft.ConvertFileTime(0),
					MftChanged: mft.ConvertFileTime(0),
					Accessed:   mft.ConvertFileTime(0),
				},
			},
		},
	}

	events := timeline.Assemble(e, func(entry.DecodedEntry) string { return "Users" }, timeline.Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, "file.txt", events[0].Filename)
	assert.Equal(t, "Users", events[0].ResolvedPath)
	assert.Equal(t, "2019-04-17T18:40:00Z", events[0].Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
}

func TestAssembleSuppressesUnsetCreatedButKeepsModified(t *testing.T) {
	e := entry.DecodedEntry{
		RecordNumber: 1,
		HasSI:        true,
		SITimestamps: entry.Timestamps{
			Created:    mft.ConvertFileTime(0),
			Modified:   mft.ConvertFileTime(132000000000000000),
			MftChanged: mft.ConvertFileTime(0),
			Accessed:   mft.ConvertFileTime(0),
		},
	}

	events := timeline.Assemble(e, nil, timeline.Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, timeline.KindModified, events[0].Kind)
}

func TestFilterSubstringCaseInsensitive(t *testing.T) {
	f := timeline.Filter{Substring: "LOGO"}
	ev := timeline.Event{Filename: "logo-250.png"}
	assert.True(t, f.Matches(ev))

	ev2 := timeline.Event{Filename: "other.png"}
	assert.False(t, f.Matches(ev2))
}

func TestFilterIdempotence(t *testing.T) {
	f := timeline.Filter{Substring: "logo", After: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)}
	ev := timeline.Event{Filename: "logo-250.png", Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}

	once := f.Matches(ev)
	twice := f.Matches(ev) && once
	assert.Equal(t, once, twice)
}

func TestTimestampFilterBounds(t *testing.T) {
	after := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	f := timeline.Filter{After: after, Before: before}

	inBounds := timeline.Event{Timestamp: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)}
	tooEarly := timeline.Event{Timestamp: time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC)}
	tooLate := timeline.Event{Timestamp: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)}

	assert.True(t, f.Matches(inBounds))
	assert.False(t, f.Matches(tooEarly))
	assert.False(t, f.Matches(tooLate))
}

func TestSortOrdersByTimestampThenRecordThenSourceThenKind(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []timeline.Event{
		{Timestamp: t2, RecordNumber: 1},
		{Timestamp: t1, RecordNumber: 2},
		{Timestamp: t1, RecordNumber: 1, Source: timeline.SourceFileName},
		{Timestamp: t1, RecordNumber: 1, Source: timeline.SourceStandardInformation},
	}
	timeline.Sort(events)

	assert.Equal(t, uint64(1), events[0].RecordNumber)
	assert.Equal(t, timeline.SourceStandardInformation, events[0].Source)
	assert.Equal(t, uint64(1), events[1].RecordNumber)
	assert.Equal(t, timeline.SourceFileName, events[1].Source)
	assert.Equal(t, uint64(2), events[2].RecordNumber)
	assert.Equal(t, t2, events[3].Timestamp)
}

func TestKindAndSourceStrings(t *testing.T) {
	assert.Equal(t, "SI", timeline.SourceStandardInformation.String())
	assert.Equal(t, "FN", timeline.SourceFileName.String())
	assert.Equal(t, "created", timeline.KindCreated.String())
	assert.Equal(t, "accessed", timeline.KindAccessed.String())
}
