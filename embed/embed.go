// Package embed normalizes external video links into embeddable player URLs.
// Normalize is pure and never fails: anything it does not recognize passes
// through unchanged, so callers can run it on every update without guarding.
package embed

import (
	"net/url"
	"strings"
)

const (
	// Autoplay must be paired with mute to satisfy browser autoplay policies.
	youtubeTemplate = "https://www.youtube.com/embed/%ID%?autoplay=1&mute=1"
	vimeoTemplate   = "https://player.vimeo.com/video/%ID%?autoplay=1&muted=1"
)

// Normalize converts a raw video URL into an embeddable player URL.
//
// Recognized forms, in priority order:
//   - youtu.be short links: video id is the first path segment
//   - youtube.com URLs already containing /embed/: returned unchanged
//   - youtube.com /live/ URLs: video id follows the live marker
//   - any other youtube.com URL: video id from the v query parameter
//   - vimeo.com URLs: video id is the last path segment
//
// Unrecognized hosts, URLs with no extractable id, and inputs that fail URL
// parsing are returned unchanged. Empty input returns empty.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Hostname()

	switch {
	case strings.Contains(host, "youtu.be"):
		return fill(youtubeTemplate, firstSegment(u.Path), raw)
	case strings.Contains(host, "youtube.com"):
		if strings.Contains(u.Path, "/embed/") {
			return raw
		}
		if i := strings.Index(u.Path, "/live/"); i >= 0 {
			return fill(youtubeTemplate, u.Path[i+len("/live/"):], raw)
		}
		return fill(youtubeTemplate, u.Query().Get("v"), raw)
	case strings.Contains(host, "vimeo.com"):
		return fill(vimeoTemplate, lastSegment(u.Path), raw)
	}
	return raw
}

// fill substitutes id into template, falling back to the raw input when no id
// was extracted. Trailing query fragments are stripped from ids pulled out of
// path splits (e.g. "abc?t=30").
func fill(template, id, fallback string) string {
	id, _, _ = strings.Cut(id, "?")
	if id == "" {
		return fallback
	}
	return strings.Replace(template, "%ID%", id, 1)
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	seg, _, _ := strings.Cut(path, "/")
	return seg
}

func lastSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
