// Package sanitize normalizes arbitrary text into values and keys that object
// stores accept as tags or metadata.
package sanitize

import (
	"strings"
	"unicode"
)

// MaxValueLength is the longest value any supported backend accepts.
const MaxValueLength = 256

// Charset reports whether a rune may appear in a sanitized value.
type Charset func(r rune) bool

// CharsetS3 is the S3 object tag alphabet: letters, digits, space and _ . : / = + - @
func CharsetS3(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(" _.:/=+-@", r)
}

// CharsetPrintable is printable ASCII, the safe subset for HTTP header backed
// metadata (GCS, Azure Blob).
func CharsetPrintable(r rune) bool {
	return r >= 0x20 && r <= 0x7e
}

// Sanitizer applies one backend's value alphabet.
type Sanitizer struct {
	Allowed Charset
}

// Default uses the printable ASCII alphabet.
var Default = Sanitizer{Allowed: CharsetPrintable}

// ForCharset returns a sanitizer for a named alphabet ("s3" or "printable").
// Unknown names fall back to printable ASCII.
func ForCharset(name string) Sanitizer {
	if strings.EqualFold(name, "s3") {
		return Sanitizer{Allowed: CharsetS3}
	}
	return Default
}

// Value cleans raw with the default alphabet.
func Value(raw string) string {
	return Default.Value(raw)
}

// Value replaces structural punctuation and whitespace with single spaces,
// drops characters outside the alphabet, trims, and truncates to
// MaxValueLength. It is total and idempotent.
func (s Sanitizer) Value(raw string) string {
	allowed := s.Allowed
	if allowed == nil {
		allowed = CharsetPrintable
	}

	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false

	for _, r := range raw {
		if isStructural(r) || unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if !allowed(r) {
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	return truncate(b.String(), MaxValueLength)
}

// Key converts raw into [A-Za-z0-9_], for backends whose metadata key
// alphabet is restricted. Keys never start with a digit.
func Key(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)

	for _, r := range raw {
		switch {
		case isSeparator(r):
			b.WriteByte('_')
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

func isStructural(r rune) bool {
	return strings.ContainsRune(`,()[]{}'"`, r)
}

func isSeparator(r rune) bool {
	return r == '-' || r == '.' || r == '/' || r == ' '
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	// Cutting can expose a space at the end.
	return strings.TrimRight(string(runes[:limit]), " ")
}
