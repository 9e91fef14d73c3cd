// Package embed finds YouTube embeds inside wiki page HTML.
package embed

import (
	"regexp"
	"strings"
)

// IDLength is the length of a YouTube video ID.
const IDLength = 11

var embedRe = regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`)

// URL returns the embed URL for a video ID.
func URL(videoID string) string {
	return "https://www.youtube.com/embed/" + videoID
}

// WatchURL returns the public watch URL for a video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// VideoID returns the first embedded video ID in html.
func VideoID(html string) (string, bool) {
	m := embedRe.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ValidID reports whether s has the shape of a video ID.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	}) < 0
}
