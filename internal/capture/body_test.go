package capture

import (
	"strings"
	"testing"
)

func TestIsTextContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"text/html; charset=utf-8": true,
		"text/plain":               true,
		"application/json":         true,
		"Application/JSON":         true,
		"application/problem+json": true,
		"application/xml":          true,
		"application/javascript":   true,
		"application/css":          true,
		"image/png":                false,
		"application/octet-stream": false,
		"":                         false,
	} {
		if got := isTextContentType(ct); got != want {
			t.Fatalf("isTextContentType(%q) = %v; want %v", ct, got, want)
		}
	}
}

func TestHeaderValueIsCaseInsensitive(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json"}
	if got := headerValue(headers, "content-type"); got != "application/json" {
		t.Fatalf("headerValue() = %q; want %q", got, "application/json")
	}
	if got := headerValue(nil, "content-type"); got != "" {
		t.Fatalf("headerValue(nil) = %q; want empty", got)
	}
}

func TestBodySnippet(t *testing.T) {
	t.Run("text_is_kept_verbatim", func(t *testing.T) {
		got, binary := bodySnippet([]byte(`{"ok":true}`), "application/json", 100)
		if got == nil || *got != `{"ok":true}` || binary {
			t.Fatalf("bodySnippet() = %v, %v; want json text", got, binary)
		}
	})

	t.Run("binary_becomes_placeholder", func(t *testing.T) {
		raw := []byte{0x89, 'P', 'N', 'G', 0, 1, 2}
		got, binary := bodySnippet(raw, "image/png", 100)
		if got == nil || !binary {
			t.Fatalf("bodySnippet() = %v, %v; want placeholder", got, binary)
		}
		if strings.Contains(*got, string(raw)) {
			t.Fatalf("placeholder contains raw bytes: %q", *got)
		}
		if !strings.Contains(*got, "7 bytes") || !strings.Contains(*got, "image/png") {
			t.Fatalf("placeholder = %q; want byte length and type", *got)
		}
	})

	t.Run("oversized_is_dropped_not_truncated", func(t *testing.T) {
		got, _ := bodySnippet([]byte("hello world"), "text/plain", 5)
		if got != nil {
			t.Fatalf("bodySnippet() = %q; want nil for oversized body", *got)
		}
	})

	t.Run("invalid_utf8_text_is_sanitised", func(t *testing.T) {
		got, _ := bodySnippet([]byte{'o', 'k', 0xff}, "text/plain", 0)
		if got == nil || !strings.HasPrefix(*got, "ok") {
			t.Fatalf("bodySnippet() = %v; want sanitised text", got)
		}
	})
}
