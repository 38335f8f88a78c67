// Package encoder implements the character-escaping rules used when mapping
// between external filesystem paths and external-scoped logical file names.
//
// The original rclone lib/encoder is a generic, per-backend configurable
// bitmask of substitution rules (encode colons, quotes, invalid UTF-8, and so
// on) selected at runtime via a pflag.Value. The external-path codec here has
// exactly one fixed escaping rule (escape uppercase letters and literal '^'
// with a preceding '^', base32 paths that begin with '$'), so this package
// narrows that Encode/Decode shape to the single scheme needed here rather
// than carrying the unused generality.
package encoder

import (
	"encoding/base32"
	"strings"
)

// EscapeUpper escapes every uppercase ASCII letter and every literal '^' in s
// by prefixing it with '^'. It is the inverse of UnescapeUpper.
func EscapeUpper(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '^':
			b.WriteByte('^')
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteByte('^')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeUpper reverses EscapeUpper: each "^x" becomes the uppercase of x,
// and "^^" becomes a literal '^'.
func UnescapeUpper(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '^' && i+1 < len(runes) {
			i++
			n := runes[i]
			if n == '^' {
				b.WriteRune('^')
			} else {
				b.WriteRune(n - ('a' - 'A'))
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeBase32 base32-encodes the raw bytes of s, used to preserve path
// segments that would otherwise contain characters forbidden in an LFN scope.
func EncodeBase32(s string) string {
	return strings.ToLower(base32Encoding.EncodeToString([]byte(s)))
}

// DecodeBase32 reverses EncodeBase32.
func DecodeBase32(s string) (string, error) {
	b, err := base32Encoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
