package sandbox

import "strings"

const truncationSuffix = "\n[Output truncated...]"

// SanitizeOutput enforces the 1 MiB cap and strips C0/DEL control bytes
// except tab and newline, per SPEC_FULL.md §4.1's "Run one-shot command"
// decode step.
func SanitizeOutput(s string, maxBytes int) string {
	s = stripControlBytes(s)
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	// Avoid splitting a multi-byte UTF-8 rune in half.
	for cut > 0 && isUTF8Continuation(s[cut]) {
		cut--
	}
	return s[:cut] + truncationSuffix
}

func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}

func stripControlBytes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' || c == '\n' {
			b.WriteByte(c)
			continue
		}
		if c < 0x20 || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
