package prober

import (
	"fmt"
	"regexp"
)

// DefaultSkipPatterns lists endpoints trusted without a probe: non-HTTP
// transports, streaming platforms whose pages need a player handshake, and
// manifest or container URLs that a HEAD request cannot validate.
var DefaultSkipPatterns = []string{
	`^(rtmp|rtmps|rtmpe|rtsp|rtp|udp|mms|mmsh|srt|rist)://`,
	`^https?://([^/?#]*\.)?(youtube\.com|youtu\.be|twitch\.tv|dailymotion\.com|vimeo\.com|facebook\.com)(:\d+)?([/?#]|$)`,
	`\.(mpd|flv|mkv|ts)([?#].*)?$`,
}

// SkipList matches endpoints against a set of case-insensitive patterns.
type SkipList struct {
	patterns []*regexp.Regexp
}

// NewSkipList compiles patterns. A nil or empty slice yields a list that
// matches nothing.
func NewSkipList(patterns []string) (*SkipList, error) {
	sl := &SkipList{}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid skip pattern %q: %w", p, err)
		}
		sl.patterns = append(sl.patterns, re)
	}
	return sl, nil
}

// Match reports whether endpoint matches any pattern.
func (sl *SkipList) Match(endpoint string) bool {
	if sl == nil {
		return false
	}
	for _, re := range sl.patterns {
		if re.MatchString(endpoint) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (sl *SkipList) Len() int {
	if sl == nil {
		return 0
	}
	return len(sl.patterns)
}
