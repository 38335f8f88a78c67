package redirect

import (
	"regexp"
	"strconv"
	"strings"
)

// compileGlob turns a '*'/'?' wildcard pattern into a case-insensitive
// regexp whose capture groups correspond, in order, to each '*' or '?'
// wildcard — the inputs a redirection rule's replacement substitutes back
// via "$1", "$2", and so on.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString("(.*)")
		case '?':
			b.WriteString("(.)")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// matchGlob reports whether name matches pattern, returning the wildcard
// capture groups in order on success.
func matchGlob(pattern, name string) (captures []string, ok bool) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	return m[1:], true
}

// substitute replaces each "$N" backreference in replacement with the
// N-th (1-indexed) capture.
func substitute(replacement string, captures []string) string {
	var b strings.Builder
	for i := 0; i < len(replacement); i++ {
		c := replacement[i]
		if c != '$' || i+1 >= len(replacement) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(replacement) && replacement[j] >= '0' && replacement[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		n, _ := strconv.Atoi(replacement[i+1 : j])
		if n >= 1 && n <= len(captures) {
			b.WriteString(captures[n-1])
		}
		i = j - 1
	}
	return b.String()
}

// isWildcard reports whether pattern or replacement makes a rule a
// wildcard rule: the pattern contains '*'/'?', or the replacement
// contains a '$' backreference.
func isWildcard(pattern, replacement string) bool {
	return strings.ContainsAny(pattern, "*?") || strings.Contains(replacement, "$")
}
