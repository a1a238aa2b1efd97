package capture

import (
	"regexp"
	"strings"
)

// capturePattern recognises numbered TGA frames and the audio stream.
var capturePattern = regexp.MustCompile(`(?i)\d+\.tga$|\.wav$`)

// Match is the result of classifying an intercepted path.
type Match struct {
	// Key is the path prefix before the frame number or audio extension,
	// with case preserved.
	Key string
	// LookupKey is Key lowercased; sessions are indexed by it.
	LookupKey string
	// Audio is set when the path names the audio stream rather than a frame.
	Audio bool
}

// Classify reports whether path belongs to a capture. The suffix match is
// case-insensitive and the leftmost match wins, so "demo0042.tga" has key
// "demo".
func Classify(path string) (Match, bool) {
	loc := capturePattern.FindStringIndex(path)
	if loc == nil {
		return Match{}, false
	}
	key := path[:loc[0]]
	return Match{
		Key:       key,
		LookupKey: strings.ToLower(key),
		Audio:     strings.EqualFold(path[loc[0]:], ".wav"),
	}, true
}
