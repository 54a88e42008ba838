package playlist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"iptvmerge/internal/models"
)

// Header carries the values written as comment lines below #EXTM3U.
type Header struct {
	GeneratedAt time.Time
	Sources     int
	Live        int
	// Degraded is set for sampled runs so consumers can tell that part of
	// the playlist was never verified.
	Degraded    bool
	AssumedLive int
}

// Write renders records as an extended M3U playlist. Each record is written
// as its metadata line, its endpoint line and a blank separator line.
func Write(w io.Writer, records []models.Record, h Header) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, HeaderMarker)
	fmt.Fprintf(bw, "# Generated: %s\n", h.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "# Sources: %d\n", h.Sources)
	fmt.Fprintf(bw, "# Live: %d\n", h.Live)
	if h.Degraded {
		fmt.Fprintf(bw, "# Degraded: sampled run, %d endpoints assumed live\n", h.AssumedLive)
	}
	fmt.Fprintln(bw)
	for _, r := range records {
		fmt.Fprintln(bw, r.Metadata)
		fmt.Fprintln(bw, r.Endpoint)
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// DisplayName returns the channel title of an #EXTINF line: the text after
// the first comma that is not inside a quoted attribute value. The whole
// line is returned when no such comma exists.
func DisplayName(metadata string) string {
	inQuotes := false
	for i := 0; i < len(metadata); i++ {
		switch metadata[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return strings.TrimSpace(metadata[i+1:])
			}
		}
	}
	return strings.TrimSpace(metadata)
}

// SortKey returns the case-folded display name used to order output records.
func SortKey(metadata string) string {
	return cases.Fold().String(DisplayName(metadata))
}
