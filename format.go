package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/alipan-go/alipan-go/internal/transfer"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable size string (e.g. "1.2 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Local().Format("Jan _2 15:04")
	}

	return t.Local().Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// newProgressFunc returns a transfer progress callback that renders
// in-place updates on stderr. Returns nil (no progress output) when
// quiet mode is set or stderr is not a terminal, so piped and scripted
// runs stay clean.
func newProgressFunc() transfer.Progress {
	if flagQuiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	// Chunk workers report concurrently; serialize writes.
	var mu sync.Mutex

	return func(ev transfer.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch ev.State {
		case transfer.StateRunning:
			fmt.Fprintf(os.Stderr, "\r%s  %s / %s ", ev.Path, formatSize(ev.Bytes), formatSize(ev.Total))
		case transfer.StateDone:
			fmt.Fprintf(os.Stderr, "\r%s  %s / %s  done\n", ev.Path, formatSize(ev.Bytes), formatSize(ev.Total))
		case transfer.StatePaused:
			fmt.Fprintf(os.Stderr, "\r%s  paused at %s\n", ev.Path, formatSize(ev.Bytes))
		case transfer.StateFailed:
			fmt.Fprintf(os.Stderr, "\r%s  failed: %v\n", ev.Path, ev.Err)
		case transfer.StateStarted:
			// First Running event draws the initial line.
		}
	}
}
