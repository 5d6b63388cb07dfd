/*
	Package ingest implements the parallel ingest pipeline of spec section 4.4: it partitions a source's record
	space into fixed-size chunks, decodes each chunk on a fixed-size worker pool, and collects the results into a
	record-number-keyed map. No pack repo supplies a worker-pool or errgroup library (golang.org/x/sync does not
	appear anywhere in the retrieved examples), so this is built on plain channels, sync.WaitGroup, and
	context.Context, the way any idiomatic Go program in this position would be.
*/
package ingest

import (
	"context"
	"runtime"
	"sync"

	"github.com/n9x/mfttimeline/entry"
	"github.com/n9x/mfttimeline/mft"
	"github.com/n9x/mfttimeline/source"
)

// defaultChunkSize is the work unit spec §4.4 suggests ("fixed-size work chunks (e.g., 1024 records each)").
const defaultChunkSize = 1024

// Config controls one ingest run.
type Config struct {
	// ChunkSize overrides defaultChunkSize; zero or negative uses the default.
	ChunkSize int
	// Workers overrides the worker pool size; zero or negative uses runtime.NumCPU() (spec §5 "a fixed-size
	// worker pool sized to the host's logical CPU count").
	Workers int
	// SinglePass carries the caller's single-pass setting. Run does not read it: every run decodes, collects and
	// merges all chunks before returning, and nothing feeds a resolve.Index while chunks stream in.
	SinglePass bool
}

// Stats is the run-wide decode summary: entries emitted, slots empty, headers malformed, fixups mismatched,
// truncated attributes, BAAD sightings and attribute-list cycles. It does not count degraded path resolutions;
// ingest never resolves paths. Run's collector adds each chunk's counters through Stats.merge, which locks
// internally; the merge pass after collection increments AttrListCycles directly, once every worker has finished.
type Stats struct {
	mu sync.Mutex

	EntriesEmitted   int64
	SlotsEmpty       int64
	HeadersMalformed int64
	FixupsMismatched int64
	TruncatedAttrs   int64
	BaadSightings    int64
	AttrListCycles   int64
}

func (s *Stats) merge(other Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EntriesEmitted += other.EntriesEmitted
	s.SlotsEmpty += other.SlotsEmpty
	s.HeadersMalformed += other.HeadersMalformed
	s.FixupsMismatched += other.FixupsMismatched
	s.TruncatedAttrs += other.TruncatedAttrs
	s.BaadSightings += other.BaadSightings
	s.AttrListCycles += other.AttrListCycles
}

// Snapshot returns a copy of the current counters, safe to call while a run is still in progress.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		EntriesEmitted:   s.EntriesEmitted,
		SlotsEmpty:       s.SlotsEmpty,
		HeadersMalformed: s.HeadersMalformed,
		FixupsMismatched: s.FixupsMismatched,
		TruncatedAttrs:   s.TruncatedAttrs,
		BaadSightings:    s.BaadSightings,
		AttrListCycles:   s.AttrListCycles,
	}
}

// Result is the outcome of a Run: the decoded entries keyed by record number (spec §4.4 "Ordering guarantee":
// "the collector preserves no inter-chunk order (record_number carries identity)"), the final Stats, and whether
// the run completed or was cancelled. Extension records (entry.DecodedEntry.IsExtension) never appear in Entries:
// their attributes are folded into their base record by the post-decode merge pass and the extension record itself
// is not a separate timeline subject (spec §3 "if set, this is an extension record; the entry belongs to the
// referenced base").
type Result struct {
	Entries   map[uint64]entry.DecodedEntry
	Stats     Stats
	Cancelled bool
}

type chunk struct {
	start int64
	end   int64 // exclusive
}

type chunkResult struct {
	entries []entry.DecodedEntry
	records []mft.Record
	stats   Stats
}

// sequentialOnlySource is implemented by sources whose ReadRecord calls must happen one at a time in increasing
// record-number order (source.RawDiskSource, backed by a single forward cursor over the volume's data runs).
// Run downgrades to a single worker for such a source instead of racing goroutines against it.
type sequentialOnlySource interface {
	RequiresSequentialAccess() bool
}

// Run decodes every record slot src reports, spread across a worker pool, and collects the results. ctx governs
// cooperative cancellation (spec §5): once ctx is done, the dispatcher stops handing out new chunks, workers
// finish whatever chunk they hold, and Run returns a Result with Cancelled set and an empty Entries map (spec §5
// "the collector discards partial state"). Once every chunk has decoded, Run runs the extension-record merge pass
// of spec §4.2: it builds a record-number index over every raw record this run decoded and calls
// entry.MergeExtensions for each base record, following that record's ATTRIBUTE_LIST (if any) into the extension
// records already collected from other chunks.
func Run(ctx context.Context, src source.Source, cfg Config) Result {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if seq, ok := src.(sequentialOnlySource); ok && seq.RequiresSequentialAccess() {
		workers = 1
	}
	if workers < 1 {
		workers = 1
	}

	total := src.RecordCount()
	chunks := make(chan chunk, workers*2)
	results := make(chan chunkResult, workers*2)

	go dispatch(ctx, chunks, total, int64(chunkSize))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, src, chunks, results)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	entries := make(map[uint64]entry.DecodedEntry)
	records := make(map[uint64]mft.Record)
	var totalStats Stats
	for r := range results {
		totalStats.merge(r.stats)
		for i, e := range r.entries {
			entries[e.RecordNumber] = e
			records[e.RecordNumber] = r.records[i]
		}
	}

	if ctx.Err() != nil {
		return Result{Cancelled: true}
	}

	merged := mergeExtensions(entries, records, &totalStats)
	return Result{Entries: merged, Stats: totalStats.Snapshot()}
}

// mergeExtensions runs entry.MergeExtensions over every base record in entries, using records as the
// record_number → mft.Record lookup spec §4.2 calls for ("the resolver builds a lazy index ... extension lookups
// use that index"). Extension records are dropped from the returned map; their attributes live on in whichever
// base record(s) referenced them.
func mergeExtensions(entries map[uint64]entry.DecodedEntry, records map[uint64]mft.Record, stats *Stats) map[uint64]entry.DecodedEntry {
	lookup := func(recordNumber uint64) (mft.Record, bool) {
		rec, ok := records[recordNumber]
		return rec, ok
	}

	merged := make(map[uint64]entry.DecodedEntry, len(entries))
	for recordNumber, e := range entries {
		if e.IsExtension {
			continue
		}
		base := records[recordNumber]
		e = entry.MergeExtensions(e, base, lookup)
		if e.EntryCorruption.Is(entry.AttrListCycle) {
			stats.AttrListCycles++
		}
		merged[recordNumber] = e
	}
	return merged
}

// dispatch hands out chunks in increasing order and stops early if ctx is cancelled, per spec §5 "the dispatcher
// stops handing out new chunks".
func dispatch(ctx context.Context, chunks chan<- chunk, total int64, chunkSize int64) {
	defer close(chunks)
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		select {
		case chunks <- chunk{start: start, end: end}:
		case <-ctx.Done():
			return
		}
	}
}

// worker decodes one chunk at a time until chunks is closed or ctx is cancelled. No in-flight chunk is aborted
// mid-decode (spec §5 "decode is bounded by record size"): a worker that picks up a chunk finishes decoding it
// even if ctx becomes done partway through.
func worker(ctx context.Context, src source.Source, chunks <-chan chunk, results chan<- chunkResult) {
	for c := range chunks {
		r := decodeChunk(src, c)
		select {
		case results <- r:
		case <-ctx.Done():
			return
		}
	}
}

// decodeChunk only decodes each record slot in isolation (mft.ParseRecord + entry.Decode); it never follows
// ATTRIBUTE_LIST references, since an extension record named by one chunk's base record may live in a chunk
// another worker hasn't decoded yet. The cross-chunk merge happens once in Run, after every chunk is in.
func decodeChunk(src source.Source, c chunk) chunkResult {
	var r chunkResult
	r.entries = make([]entry.DecodedEntry, 0, c.end-c.start)
	r.records = make([]mft.Record, 0, c.end-c.start)
	for recordNumber := c.start; recordNumber < c.end; recordNumber++ {
		slot, err := src.ReadRecord(recordNumber)
		if err != nil {
			// a source read failure ends this chunk; slots decoded before it are kept
			break
		}
		record, outcome, err := mft.ParseRecord(slot, uint64(recordNumber))
		if err != nil {
			r.stats.HeadersMalformed++
			continue
		}
		if record.Corruption.Is(mft.CorruptionBaadSighted) {
			r.stats.BaadSightings++
		}
		if outcome == mft.OutcomeEmpty {
			r.stats.SlotsEmpty++
			continue
		}
		if record.Corruption.Is(mft.CorruptionFixupMismatch) {
			r.stats.FixupsMismatched++
		}
		if record.Corruption.Is(mft.CorruptionTruncatedAttribute) {
			r.stats.TruncatedAttrs++
		}

		e := entry.Decode(record)
		r.entries = append(r.entries, e)
		r.records = append(r.records, record)
		r.stats.EntriesEmitted++
	}
	return r
}
