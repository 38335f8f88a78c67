// Package extpath implements the external-path codec: encoding a local
// filesystem path under an endpoint into a file::ENDPOINT LFN body, and
// decoding one back into a path plus tail.
package extpath

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/clusterdfs/dfscoord/lib/encoder"
)

// ErrPathShape is returned when a decoded scope embeds an OS path separator
// or a bare ':'.
var ErrPathShape = errors.New("extpath: disallowed separator in path scope")

// Encode turns a local path into the scope chain that follows the endpoint
// in a file::ENDPOINT::… LFN.
//
//   - A Windows drive prefix "X:\" becomes the first scope, "X$".
//   - A path beginning with "$" is base32-encoded after the leading "$".
//   - Otherwise each path separator becomes "::"; uppercase letters and
//     literal '^' are escaped with a preceding '^'; everything else is
//     lowercased.
func Encode(p string) string {
	p = preDecodeEntities(p)

	if drive, rest, ok := splitWindowsDrive(p); ok {
		scopes := splitPathScopes(rest)
		out := []string{strings.ToLower(drive) + "$"}
		for _, s := range scopes {
			out = append(out, encoder.EscapeUpper(s))
		}
		return strings.Join(out, "::")
	}

	if strings.HasPrefix(p, "$") {
		return "$" + encoder.EncodeBase32(p[1:])
	}

	scopes := splitPathScopes(p)
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, encoder.EscapeUpper(s))
	}
	return strings.Join(out, "::")
}

// Decode turns the scope chain following ENDPOINT:: (everything up to and
// including the tail) back into an OS path and a tail, mirroring the
// original getExternalPath's explicit iswin parameter rather than the host
// OS's own path conventions.
//
//   - If body is a query form ("…::>query"), dir is "/" and tail is the
//     query text.
//   - If iswin is true, a leading drive scope ("c$") renders as a Windows
//     UNC path rooted at host: "\\host\c$\...\", so the result identifies
//     the share on the remote node rather than a path local to this
//     process. Separators are '\'.
//   - If iswin is false, the scopes join with '/' into a plain POSIX path
//     local to host; no host prefix is added, since a POSIX remote file is
//     addressed by a separate connection to host rather than embedded in
//     the path text.
func Decode(host, body string, iswin bool) (dir, tail string, err error) {
	if idx := strings.Index(body, "::>"); idx >= 0 {
		return "/", body[idx+len("::>"):], nil
	}
	if strings.HasPrefix(body, ">") {
		return "/", body[1:], nil
	}

	scopes := strings.Split(body, "::")
	if len(scopes) == 0 {
		return "", "", nil
	}

	start := 0
	var drive string
	if iswin && len(scopes[0]) == 2 && scopes[0][1] == '$' {
		drive = string(scopes[0][0])
		start = 1
	} else if strings.HasPrefix(scopes[0], "$") {
		decoded, derr := encoder.DecodeBase32(scopes[0][1:])
		if derr != nil {
			return "", "", derr
		}
		return filepath.Dir("$" + decoded), filepath.Base("$" + decoded), nil
	}

	var parts []string
	for _, sc := range scopes[start:] {
		if strings.ContainsAny(sc, `/\`) {
			return "", "", ErrPathShape
		}
		if strings.Count(sc, ":") == 1 {
			return "", "", ErrPathShape
		}
		parts = append(parts, encoder.UnescapeUpper(sc))
	}
	if len(parts) == 0 {
		return "", "", nil
	}
	tail = parts[len(parts)-1]
	dirParts := parts[:len(parts)-1]

	if iswin {
		sep := `\`
		dir = strings.Join(dirParts, sep)
		if drive != "" {
			share := drive + "$"
			if dir != "" {
				share += sep + dir
			}
			dir = `\\` + host + sep + share + sep
		} else {
			dir = sep + dir
		}
		return dir, tail, nil
	}

	sep := "/"
	dir = sep + strings.Join(dirParts, sep)
	return dir, tail, nil
}

func splitWindowsDrive(p string) (drive, rest string, ok bool) {
	if len(p) >= 3 && isLetter(p[0]) && p[1] == ':' && (p[2] == '\\' || p[2] == '/') {
		return string(p[0]), p[3:], true
	}
	return "", "", false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func splitPathScopes(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// preDecodeEntities decodes the handful of XML entity references the
// original paths may carry, preserving embedded newlines.
func preDecodeEntities(s string) string {
	r := strings.NewReplacer(
		"&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&",
	)
	return r.Replace(s)
}
