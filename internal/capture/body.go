package capture

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

var textContentTypes = []string{
	"application/json",
	"application/xml",
	"application/javascript",
	"application/css",
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// isTextContentType reports whether a content-type header denotes content
// that can be stored as text.
func isTextContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	if ct == "" {
		return false
	}
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	for _, t := range textContentTypes {
		if ct == t {
			return true
		}
	}
	return strings.HasSuffix(ct, "+json") || strings.HasSuffix(ct, "+xml")
}

// bodySnippet turns a raw body into what is stored on a response record.
// Bodies over maxBytes are dropped entirely rather than truncated. The second
// return value is true when the snippet is a binary placeholder.
func bodySnippet(body []byte, contentType string, maxBytes int) (*string, bool) {
	if !withinLimit(len(body), maxBytes) {
		return nil, false
	}
	if isTextContentType(contentType) {
		text := string(body)
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "�")
		}
		return &text, false
	}
	declared := contentType
	if declared == "" {
		declared = "unknown"
	}
	placeholder := fmt.Sprintf("[binary data: %d bytes, type: %s]", len(body), declared)
	return &placeholder, true
}

// withinLimit treats a non-positive maxBytes as "no limit".
func withinLimit(n, maxBytes int) bool {
	return maxBytes <= 0 || n <= maxBytes
}
