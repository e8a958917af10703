package playback

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock parses a speaker time field ("H:MM:SS", "MM:SS" or "SS", optionally
// with fractional seconds) into whole seconds.
//
// Speakers report placeholders such as "NOT_IMPLEMENTED" or "" for streams, and
// occasionally out-of-range components. Anything that is not a clean
// non-negative clock returns ok=false so the caller can mark the field unknown.
func ParseClock(s string) (seconds int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}

	// Fractional seconds only on the last component.
	last := parts[len(parts)-1]
	if i := strings.IndexByte(last, '.'); i >= 0 {
		frac := last[i+1:]
		if frac == "" || !allDigits(frac) {
			return 0, false
		}
		parts[len(parts)-1] = last[:i]
	}

	total := 0
	for i, p := range parts {
		if p == "" || !allDigits(p) {
			return 0, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		// Minutes and seconds after the leading component must stay below 60.
		if i > 0 && n >= 60 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// FormatSeekTarget renders seconds as "H:MM:SS", the format UPnP REL_TIME seeks use.
func FormatSeekTarget(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
