// Package playlist reads and writes the extended M3U format: an optional
// #EXTM3U header followed by #EXTINF metadata lines, each paired with the
// stream endpoint on the next line.
package playlist

import (
	"strings"

	"iptvmerge/internal/models"
)

const (
	// HeaderMarker opens an extended M3U document.
	HeaderMarker = "#EXTM3U"
	// MetadataMarker prefixes a metadata line.
	MetadataMarker = "#EXTINF"

	commentPrefix = "#"
	byteOrderMark = "\ufeff"
)

// Parse warning kinds.
const (
	WarnEmptyDocument   = "empty_document"
	WarnMalformedHeader = "malformed_header"
)

// Document is the result of parsing one source document.
type Document struct {
	Records  []models.Record
	Warnings []string
}

// Parse returns the records of doc in source order. It never fails:
// dangling metadata lines are dropped and a missing header is tolerated.
func Parse(doc string) []models.Record {
	return ParseDocument(doc).Records
}

// ParseDocument parses doc in a single pass and also reports warnings for
// an empty document or a missing or malformed header.
func ParseDocument(doc string) Document {
	var d Document
	lines := strings.Split(strings.TrimPrefix(doc, byteOrderMark), "\n")

	sawContent := false
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !sawContent {
			sawContent = true
			if isHeader(line) {
				continue
			}
			d.Warnings = append(d.Warnings, WarnMalformedHeader)
			if strings.HasPrefix(line, HeaderMarker) {
				// e.g. "#EXTM3U8" or "#EXTM3Ux-tvg-url=..."
				continue
			}
		}
		if !strings.HasPrefix(line, MetadataMarker) {
			continue
		}
		if i+1 >= len(lines) {
			break
		}
		next := strings.TrimSpace(lines[i+1])
		if next == "" || strings.HasPrefix(next, commentPrefix) {
			continue
		}
		d.Records = append(d.Records, models.Record{Metadata: line, Endpoint: next})
		i++
	}

	if !sawContent {
		d.Warnings = append(d.Warnings, WarnEmptyDocument)
	}
	return d
}

// isHeader accepts "#EXTM3U" alone or followed by space-separated attributes.
func isHeader(line string) bool {
	return line == HeaderMarker || strings.HasPrefix(line, HeaderMarker+" ")
}
