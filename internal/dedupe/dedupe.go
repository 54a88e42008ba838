// Package dedupe reduces a record sequence to unique records.
package dedupe

import (
	"fmt"

	"iptvmerge/internal/models"
)

// KeyMode selects which attributes make two records the same.
type KeyMode string

const (
	// KeyEndpoint keeps the first record seen for each endpoint; later
	// metadata variants of the same endpoint are discarded.
	KeyEndpoint KeyMode = "endpoint"
	// KeyPair keeps one record per distinct (metadata, endpoint) pair.
	KeyPair KeyMode = "pair"
)

// ParseKeyMode validates a key mode name.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(s) {
	case KeyEndpoint, KeyPair:
		return KeyMode(s), nil
	}
	return "", fmt.Errorf("invalid dedup key %q (use 'endpoint' or 'pair')", s)
}

type pairKey struct {
	metadata string
	endpoint string
}

// Dedupe returns the records whose key was not seen earlier in the input,
// preserving first-seen order. An unknown mode is treated as KeyEndpoint.
func Dedupe(records []models.Record, mode KeyMode) []models.Record {
	out := make([]models.Record, 0, len(records))
	switch mode {
	case KeyPair:
		seen := make(map[pairKey]struct{}, len(records))
		for _, r := range records {
			k := pairKey{r.Metadata, r.Endpoint}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
	default:
		seen := make(map[string]struct{}, len(records))
		for _, r := range records {
			if _, ok := seen[r.Endpoint]; ok {
				continue
			}
			seen[r.Endpoint] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
