package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/n9x/mfttimeline/entry"
	"github.com/n9x/mfttimeline/ingest"
	"github.com/n9x/mfttimeline/resolve"
	"github.com/n9x/mfttimeline/source"
	"github.com/n9x/mfttimeline/timeline"
)

const (
	exitCodeUserError int = iota + 2
	exitCodeFunctionalError
	exitCodeTechnicalError
)

const timestampLayout = "2006-01-02T15:04:05.0000000Z"

var (
	singlePass bool
	filter     string
	afterFlag  string
	beforeFlag string
	format     string
	output     string
	timezone   string
	rawDisk    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mfttimeline <mft-path>",
		Short: "Decode an NTFS $MFT and print a chronological file-system timeline",
		Args:  cobra.ExactArgs(1),
		Run:   run,
	}

	rootCmd.Flags().BoolVar(&singlePass, "single-pass", false, "single-pass resolver mode (accepted; paths are always resolved after ingest completes)")
	rootCmd.Flags().StringVar(&filter, "filter", "", "substring, case-insensitive, applied to filename")
	rootCmd.Flags().StringVar(&afterFlag, "after", "", "inclusive lower timestamp bound, YYYY-MM-DD[ HH:MM:SS] UTC")
	rootCmd.Flags().StringVar(&beforeFlag, "before", "", "inclusive upper timestamp bound, YYYY-MM-DD[ HH:MM:SS] UTC")
	rootCmd.Flags().StringVar(&format, "format", "interactive", "one of interactive, json, csv (emitters are external to the core; interactive prints text lines)")
	rootCmd.Flags().StringVar(&output, "output", "-", "output path, or - for stdout")
	rootCmd.Flags().StringVar(&timezone, "timezone", "UTC", "display-only; the core always emits UTC")
	rootCmd.Flags().BoolVar(&rawDisk, "raw-disk", false, "treat the path as a raw volume/image and locate $MFT via its $Boot sector instead of reading an already-extracted $MFT file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeUserError)
	}
}

func run(cmd *cobra.Command, args []string) {
	mftPath := args[0]

	after, err := parseBound(afterFlag)
	if err != nil {
		fatalf(exitCodeUserError, "invalid --after: %v\n", err)
	}
	before, err := parseBound(beforeFlag)
	if err != nil {
		fatalf(exitCodeUserError, "invalid --before: %v\n", err)
	}

	log.Printf("opening %s", mftPath)
	src, err := openSource(mftPath)
	if err != nil {
		fatalf(exitCodeTechnicalError, "unable to open source: %v\n", err)
	}
	defer src.Close()

	ctx := context.Background()
	log.Printf("decoding %d record slots", src.RecordCount())
	result := ingest.Run(ctx, src, ingest.Config{SinglePass: singlePass})
	if result.Cancelled {
		fatalf(exitCodeTechnicalError, "ingest cancelled\n")
	}
	log.Printf("decoded %d entries (%d empty slots, %d malformed headers, %d fixup mismatches)",
		result.Stats.EntriesEmitted, result.Stats.SlotsEmpty, result.Stats.HeadersMalformed, result.Stats.FixupsMismatched)

	idx := buildIndex(result.Entries)

	tf := timeline.Filter{Substring: filter, After: after, Before: before}
	resolvedPath := func(e entry.DecodedEntry) string {
		name, ok := e.DisplayName()
		if !ok {
			return idx.Resolve(e.BaseRecordRef)
		}
		return idx.Resolve(name.ParentRef)
	}

	events := timeline.AssembleAll(result.Entries, resolvedPath, tf)
	timeline.Sort(events)

	w := os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			fatalf(exitCodeTechnicalError, "unable to open output file: %v\n", err)
		}
		defer f.Close()
		w = f
	}

	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			ev.Timestamp.UTC().Format(timestampLayout), ev.Source, ev.RecordNumber, ev.ResolvedPath, ev.Filename)
	}
}

// buildIndex builds a resolve.Index over a fully-decoded entry set in one scan. ingest.Run always runs to
// completion before this is called and does not read Config.SinglePass, so the --single-pass flag changes
// neither the pipeline nor how this index is built.
func buildIndex(entries map[uint64]entry.DecodedEntry) *resolve.Index {
	idx := resolve.NewIndex()
	for _, e := range entries {
		name, ok := e.DisplayName()
		if !ok {
			continue
		}
		idx.Add(e.RecordNumber, e.SequenceNumber, name.ParentRef, name.FileName, e.IsDirectory)
	}
	return idx
}

func openSource(mftPath string) (source.Source, error) {
	if rawDisk {
		return source.OpenRawDisk(mftPath)
	}

	lower := strings.ToLower(mftPath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		data, _, err := source.OpenZipMember(mftPath)
		if err != nil {
			return nil, err
		}
		return source.NewBufferSource(data, 0), nil
	case strings.HasSuffix(lower, ".gz"):
		data, err := source.OpenGzip(mftPath)
		if err != nil {
			return nil, err
		}
		return source.NewBufferSource(data, 0), nil
	default:
		return source.OpenMmap(mftPath, 0)
	}
}

func parseBound(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or YYYY-MM-DD HH:MM:SS, got %q", v)
}

func fatalf(exitCode int, format string, v ...interface{}) {
	log.Printf(format, v...)
	os.Exit(exitCode)
}
