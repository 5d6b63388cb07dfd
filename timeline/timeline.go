/*
	Package timeline implements the Timeline Assembler of spec section 4.5: it projects a DecodedEntry into up to
	eight timestamped Events, applies the caller's optional after/before/filename-substring predicates, and, in
	buffered mode, sorts the result the way the spec's "Round-trip" testable property requires.
*/
package timeline

import (
	"sort"
	"strings"
	"time"

	"github.com/n9x/mfttimeline/entry"
)

// TimestampSource distinguishes which attribute an event's timestamp came from (spec §3 invariant 5: "SI and FN
// timestamps are distinct sources; both may be emitted per event").
type TimestampSource int

const (
	SourceStandardInformation TimestampSource = iota
	SourceFileName
)

func (s TimestampSource) String() string {
	if s == SourceFileName {
		return "FN"
	}
	return "SI"
}

// Kind is one of the four timestamp kinds every SI or FN attribute carries.
type Kind int

const (
	KindCreated Kind = iota
	KindModified
	KindMftChanged
	KindAccessed
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindMftChanged:
		return "mft_changed"
	case KindAccessed:
		return "accessed"
	}
	return "unknown"
}

// Event is one timestamped occurrence emitted for a decoded entry.
type Event struct {
	Timestamp     time.Time
	RecordNumber  uint64
	Filename      string
	ResolvedPath  string
	Size          uint64
	IsDeleted     bool
	ADS           []entry.Stream
	Source        TimestampSource
	Kind          Kind
}

// Filter is the caller's optional predicate set (spec §6 CLI surface: filter/after/before).
type Filter struct {
	// Substring, case-insensitive, applied to the filename field; empty means no filtering by name.
	Substring string
	// After/Before bound the timestamp inclusively; a zero time.Time means "unbounded" on that side.
	After  time.Time
	Before time.Time
}

// Matches reports whether e satisfies f. An empty Filter matches everything.
func (f Filter) Matches(e Event) bool {
	if f.Substring != "" && !strings.Contains(strings.ToLower(e.Filename), strings.ToLower(f.Substring)) {
		return false
	}
	if !f.After.IsZero() && e.Timestamp.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && e.Timestamp.After(f.Before) {
		return false
	}
	return true
}

// ResolvedPathFunc resolves a record's parent reference (as carried by the FileNameAttribute used for display)
// into an absolute path string; typically backed by a *resolve.Index. Kept as a function rather than a direct
// resolve.Index dependency so timeline stays decoupled from how the path was computed.
type ResolvedPathFunc func(e entry.DecodedEntry) string

// Assemble projects one DecodedEntry into its timestamped Events, applying filter and suppressing unset
// timestamps (spec §4.5 "Unset timestamps (value 0 or 0xFFFFFFFFFFFFFFFF) are suppressed").
func Assemble(e entry.DecodedEntry, resolvedPath ResolvedPathFunc, filter Filter) []Event {
	name, hasName := e.DisplayName()
	filename := ""
	if hasName {
		filename = name.FileName
	}
	path := ""
	if resolvedPath != nil {
		path = resolvedPath(e)
	}

	base := Event{
		RecordNumber: e.RecordNumber,
		Filename:     filename,
		ResolvedPath: path,
		Size:         e.SizeLogical,
		IsDeleted:    !e.InUse,
		ADS:          e.ADS,
	}

	var events []Event
	if e.HasSI {
		events = appendTimestampEvents(events, base, SourceStandardInformation, e.SITimestamps, filter)
	}
	if hasName {
		events = appendTimestampEvents(events, base, SourceFileName, name.Timestamps, filter)
	}
	return events
}

func appendTimestampEvents(events []Event, base Event, src TimestampSource, ts entry.Timestamps, filter Filter) []Event {
	kinds := [...]struct {
		kind Kind
		t    time.Time
	}{
		{KindCreated, ts.Created},
		{KindModified, ts.Modified},
		{KindMftChanged, ts.MftChanged},
		{KindAccessed, ts.Accessed},
	}
	for _, k := range kinds {
		if !entry.IsSetTime(k.t) {
			continue
		}
		ev := base
		ev.Timestamp = k.t
		ev.Source = src
		ev.Kind = k.kind
		if filter.Matches(ev) {
			events = append(events, ev)
		}
	}
	return events
}

// AssembleAll runs Assemble over every entry and concatenates the result, in arbitrary entry order (the caller
// must use Sort for a deterministic buffered-mode order).
func AssembleAll(entries map[uint64]entry.DecodedEntry, resolvedPath ResolvedPathFunc, filter Filter) []Event {
	events := make([]Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, Assemble(e, resolvedPath, filter)...)
	}
	return events
}

// Sort orders events ascending by (timestamp, record_number, source, kind), the buffered-mode order spec §4.5
// requires ("in buffered mode ... the assembler sorts ascending by (timestamp, record_number, source, kind)
// before emission").
func Sort(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.RecordNumber != b.RecordNumber {
			return a.RecordNumber < b.RecordNumber
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Kind < b.Kind
	})
}
