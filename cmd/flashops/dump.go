package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/flashops"
	"golang.org/x/sync/errgroup"
)

// chunkGap separates device output reads that belong to different lines.
const chunkGap = 5 * time.Millisecond

func dump(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()

	entries := make(chan flashops.LogEntry, 100)

	var g errgroup.Group
	g.Go(func() error { return processEntries(os.Stdout, entries) })
	g.Go(func() error { return flashops.ReadIn(entries, f) })

	return g.Wait()
}

// processEntries prints recorded entries, joining device output chunks that
// arrived within chunkGap of each other. Chunks were trimmed when recorded,
// so they are joined with a space.
func processEntries(w io.Writer, entries <-chan flashops.LogEntry) error {
	var pending *flashops.LogEntry
	var lastRead time.Time
	var chunks []string
	var err error

	flush := func() {
		if pending == nil || err != nil {
			return
		}
		pending.Message = strings.Join(chunks, " ")
		_, err = fmt.Fprintln(w, renderEntry(*pending))
		pending = nil
		chunks = chunks[:0]
	}

	for e := range entries {
		if e.Category != flashops.CategoryDeviceOutput {
			flush()
			if err == nil {
				_, err = fmt.Fprintln(w, renderEntry(e))
			}
			continue
		}

		if pending != nil && e.Timestamp.Sub(lastRead) > chunkGap {
			flush()
		}

		lastRead = e.Timestamp
		if pending == nil {
			first := e
			pending = &first
		}
		chunks = append(chunks, e.Message)
	}

	flush()
	return err
}
