// Package contenttype infers a response Content-Type from a payload and an
// optional URL, per spec.md §4.c: URL suffix first, then payload shape.
package contenttype

import (
	"strings"

	"github.com/tidwall/gjson"
)

// suffixTypes maps a known URL suffix to its MIME type (spec.md §4.c step 1).
var suffixTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".m3u8": "application/vnd.apple.mpegurl",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".csv":  "text/csv",
}

// FromURL returns the MIME type for a known URL suffix and true, or ("", false)
// if the URL (or its path) doesn't end in a recognized suffix.
func FromURL(url string) (string, bool) {
	// Strip any query/fragment before checking the suffix.
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	lower := strings.ToLower(url)
	for suffix, mime := range suffixTypes {
		if strings.HasSuffix(lower, suffix) {
			return mime, true
		}
	}
	return "", false
}

// ForBytes returns the type for a raw byte payload (spec.md §4.c step 2):
// always application/octet-stream, regardless of URL.
func ForBytes() string {
	return "application/octet-stream"
}

// ForString infers a type for a string payload (spec.md §4.c step 3): valid
// JSON, else HTML/XML-ish via a "<...>" sniff, else plain text. url, if
// non-empty, is consulted only to choose between text/html and
// application/xml for tag-shaped content.
func ForString(payload, url string) string {
	if gjson.Valid(payload) {
		return "application/json"
	}
	if looksLikeTags(payload) {
		if strings.HasSuffix(strings.ToLower(url), ".xml") {
			return "application/xml"
		}
		return "text/html"
	}
	return "text/plain"
}

func looksLikeTags(s string) bool {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '<')
	if open < 0 {
		return false
	}
	close := strings.IndexByte(s[open:], '>')
	return close > 0
}

// ForObject returns the type for any other non-nil payload value (spec.md
// §4.c step 4): always application/json, since it will be JSON-encoded.
func ForObject(v any) string {
	if v == nil {
		return "text/plain"
	}
	return "application/json"
}

// Infer implements the full decision in spec.md §4.c for an arbitrary Go
// value: byte slices, strings, and everything else (including nil).
func Infer(payload any, url string) string {
	if mime, ok := FromURL(url); ok {
		return mime
	}
	switch v := payload.(type) {
	case []byte:
		return ForBytes()
	case string:
		return ForString(v, url)
	case nil:
		return "text/plain"
	default:
		return ForObject(v)
	}
}
