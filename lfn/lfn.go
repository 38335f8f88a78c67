// Package lfn implements the logical file name grammar: parsing, canonical
// normalization, multi-LFN expansion, and the derived queries used to
// locate a name's metadata branch in the coordination store.
package lfn

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/clusterdfs/dfscoord/endpoint"
	"github.com/clusterdfs/dfscoord/internal/dlog"
	"github.com/clusterdfs/dfscoord/lfn/extpath"
)

var log = dlog.For("lfn")

// Blank is the canonical form of an empty input.
const Blank = ".::_blank_"

// Branch names used by FullnameQuery.
const (
	BranchFile       = "File"
	BranchSuperFile  = "SuperFile"
	BranchCollection = "Collection"
	BranchScope      = "Scope"
	BranchInternal   = "HpccInternal"
)

// Director resolves wildcard entries in a multi-LFN by listing names that
// match a prefix+pattern, case-insensitively — an external directory
// iterator collaborator outside this package's scope.
type Director interface {
	Glob(prefixPattern string) ([]string, error)
}

// Options configures a Parse call.
type Options struct {
	// Director resolves wildcard multi-LFN entries. Required only when the
	// input actually contains a wildcard child.
	Director Director
}

// LFN is a parsed logical file name.
type LFN struct {
	Canonical string
	TailPos   int
	LocalPos  int
	External  bool
	Foreign   bool
	Cluster   string
	Endpoint  endpoint.Endpoint

	// Multi holds this LFN's children when it is a multi-LFN ("prefix{a,b}").
	// Nil for a scalar LFN.
	Multi []*LFN
}

// String renders l back to its full textual form, cluster suffix included.
func (l *LFN) String() string {
	if l.Cluster == "" {
		return l.Canonical
	}
	return l.Canonical + "@" + l.Cluster
}

// Tail returns the final segment of the name.
func (l *LFN) Tail() string {
	if l.TailPos < 0 || l.TailPos > len(l.Canonical) {
		return ""
	}
	return l.Canonical[l.TailPos:]
}

// IsMulti reports whether l is a multi-LFN.
func (l *LFN) IsMulti() bool { return l.Multi != nil }

// Parse parses input into an LFN, per the grammar in the external-interfaces
// section: `'~'? body ('@' cluster)?` with body being a multi or scalar
// name, and foreign/external prefixes recognized on the leading scope.
func Parse(input string, opts *Options) (*LFN, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := strings.TrimSpace(input)
	tilde := false
	if strings.HasPrefix(s, "~") {
		tilde = true
		s = s[1:]
	}
	if s == "" {
		return &LFN{Canonical: Blank, TailPos: len(".::"), LocalPos: 0}, nil
	}

	if multi, ok, err := tryParseMulti(s, opts); err != nil {
		return nil, err
	} else if ok {
		return multi, nil
	}

	s, cluster := stripCluster(s)

	l := &LFN{Cluster: cluster}
	_ = tilde

	if rest, ep, ok := stripScopePrefix(s, "file"); ok {
		ep2, endpointRest, err := parseEndpointScope(rest)
		if err != nil {
			return nil, err
		}
		l.External = true
		l.Endpoint = ep2
		_ = ep
		if strings.HasPrefix(endpointRest, ">") {
			canon := "file::" + ep2.URL() + "::" + endpointRest
			l.Canonical = canon
			l.TailPos = len("file::"+ep2.URL()+"::") + 1
			return l, nil
		}
		scopes, tail := normalizeScopes(endpointRest)
		body := "file::" + ep2.URL()
		if scopes != "" {
			body += "::" + scopes
		}
		body += "::" + tail
		l.Canonical = body
		l.TailPos = len(body) - len(tail)
		checkTailInvariant(tail)
		return l, nil
	}

	if rest, _, ok := stripScopePrefix(s, "foreign"); ok {
		ep2, endpointRest, err := parseEndpointScope(rest)
		if err != nil {
			return nil, err
		}
		l.Foreign = true
		l.Endpoint = ep2
		prefix := "foreign::" + ep2.URL() + "::"
		l.LocalPos = len(prefix)
		scopes, tail := normalizeScopes(endpointRest)
		body := prefix
		if scopes != "" {
			body += scopes + "::"
		}
		body += tail
		l.Canonical = body
		l.TailPos = len(body) - len(tail)
		checkTailInvariant(tail)
		return l, nil
	}

	if err := rejectUnscopedWildcards(s); err != nil {
		return nil, err
	}
	scopes, tail := normalizeScopes(s)
	body := tail
	if scopes != "" {
		body = scopes + "::" + tail
	}
	l.Canonical = body
	l.TailPos = len(body) - len(tail)
	checkTailInvariant(tail)
	return l, nil
}

func checkTailInvariant(tail string) {
	if strings.Contains(tail, "::") {
		log.WithField("tail", tail).Warn("tail contains '::'")
	}
}

// stripCluster removes a trailing "@cluster" suffix: the last unescaped '@'
// after the last "::" separator. An '@' immediately followed by '@' or '^'
// is literal, not a cluster marker.
func stripCluster(s string) (string, string) {
	sepIdx := strings.LastIndex(s, "::")
	region := s
	base := 0
	if sepIdx >= 0 {
		region = s[sepIdx+2:]
		base = sepIdx + 2
	}
	for i := len(region) - 1; i >= 0; i-- {
		if region[i] != '@' {
			continue
		}
		if i+1 < len(region) && (region[i+1] == '@' || region[i+1] == '^') {
			continue
		}
		cluster := strings.ToLower(strings.TrimSpace(region[i+1:]))
		return s[:base+i], cluster
	}
	return s, ""
}

func stripScopePrefix(s, scope string) (rest string, matched string, ok bool) {
	prefix := scope + "::"
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	return s[len(prefix):], scope, true
}

// parseEndpointScope consumes the ENDPOINT::... token at the front of s,
// returning the parsed endpoint and the remainder after its "::".
func parseEndpointScope(s string) (endpoint.Endpoint, string, error) {
	idx := strings.Index(s, "::")
	var epStr, rest string
	if idx < 0 {
		epStr, rest = s, ""
	} else {
		epStr, rest = s[:idx], s[idx+2:]
	}
	ep, err := endpoint.Parse(epStr)
	if err != nil {
		return endpoint.Endpoint{}, "", fmt.Errorf("lfn: invalid endpoint %q: %w", epStr, err)
	}
	return ep, rest, nil
}

// normalizeScopes lowercases and trims each "::"-separated scope, rejoining
// all but the last as scopes and returning the last as tail.
func normalizeScopes(s string) (scopes string, tail string) {
	if s == "" {
		return "", ""
	}
	parts := strings.Split(s, "::")
	for i, p := range parts {
		parts[i] = lowerPreserveEscapes(strings.TrimSpace(p))
	}
	tail = parts[len(parts)-1]
	scopes = strings.Join(parts[:len(parts)-1], "::")
	return scopes, tail
}

// lowerPreserveEscapes lowercases s except runs immediately following a
// literal '^', which are kept verbatim (the escape convention extpath also
// uses for preserving case).
func lowerPreserveEscapes(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '^' {
			b.WriteRune(r)
			escaped = true
			continue
		}
		b.WriteRune(toLower(r))
	}
	return b.String()
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

const disallowedScopeChars = `*"/:<>?\|`

func rejectUnscopedWildcards(s string) error {
	if strings.ContainsAny(s, "*?") {
		return fmt.Errorf("lfn: wildcards are only allowed in a %q-scoped name", "file")
	}
	return nil
}

// Validate reports whether input parses successfully, applying the same
// rules as Parse plus the scope-character restriction: each scope must
// consist of printable ASCII characters outside disallowedScopeChars
// (wildcards are permitted inside a multi-LFN's entries). The check covers
// the local scopes and tail of each scalar name; external (file::) names
// are not checked.
func Validate(input string, opts *Options) bool {
	s := strings.TrimSpace(input)
	if strings.Count(s, "~") > 1 {
		return false
	}
	l, err := Parse(input, opts)
	if err != nil {
		return false
	}
	pending := []*LFN{l}
	for len(pending) > 0 {
		n := pending[len(pending)-1]
		pending = append(pending[:len(pending)-1], n.Multi...)
		if n.IsMulti() || n.External {
			continue
		}
		for _, scope := range strings.Split(n.Canonical[n.LocalPos:], "::") {
			for i := 0; i < len(scope); i++ {
				if scope[i] < 0x20 || scope[i] > 0x7e || strings.IndexByte(disallowedScopeChars, scope[i]) >= 0 {
					return false
				}
			}
		}
	}
	return true
}

// ScopeQuery returns an XPath locating the name's scope chain, e.g.
// `Scope[@name="s1"]/Scope[@name="s2"]`, truncated before the tail.
// If absolute is true the query is rooted at /Files.
func (l *LFN) ScopeQuery(absolute bool) string {
	body := l.Canonical
	if l.External {
		return ""
	}
	body = body[:l.TailPos]
	body = strings.TrimSuffix(body, "::")
	var b strings.Builder
	if absolute {
		b.WriteString("/Files")
	}
	if body == "" {
		return b.String()
	}
	for i, scope := range strings.Split(body, "::") {
		if i > 0 || absolute {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "Scope[@name=%q]", scope)
	}
	return b.String()
}

// FullnameQuery appends the branch element for tail onto ScopeQuery.
func (l *LFN) FullnameQuery(branch string, absolute bool) string {
	return l.ScopeQuery(absolute) + fmt.Sprintf("/%s[@name=%q]", branch, l.Tail())
}

// EndpointOf returns the foreign or external endpoint carried by l.
func (l *LFN) EndpointOf() (endpoint.Endpoint, bool) {
	if l.External || l.Foreign {
		return l.Endpoint, true
	}
	return endpoint.Endpoint{}, false
}

// ExternalPath decodes an external LFN's scope chain back into an OS path
// and tail via the external-path codec, honoring iswin for Windows
// UNC/drive-scope rendering regardless of the host this process runs on.
func (l *LFN) ExternalPath(iswin bool) (dir, tail string, err error) {
	if !l.External {
		return "", "", fmt.Errorf("lfn: not external (%s)", l.Canonical)
	}
	prefix := "file::" + l.Endpoint.URL() + "::"
	body := strings.TrimPrefix(l.Canonical, prefix)
	return extpath.Decode(l.Endpoint.Host, body, iswin)
}

// SetForeign rewrites l to be foreign to ep. If l is already foreign and
// checkLocal is true, it is left unchanged.
func (l *LFN) SetForeign(ep endpoint.Endpoint, checkLocal bool) {
	if l.Foreign && checkLocal {
		return
	}
	body := l.Canonical
	prefix := "foreign::" + ep.URL() + "::"
	l.Canonical = prefix + body
	l.TailPos += len(prefix)
	l.LocalPos = len(prefix)
	l.Foreign = true
	l.Endpoint = ep
}

// ClearForeign strips a foreign::ENDPOINT:: prefix, if present.
func (l *LFN) ClearForeign() {
	if !l.Foreign {
		return
	}
	l.Canonical = l.Canonical[l.LocalPos:]
	l.TailPos -= l.LocalPos
	l.LocalPos = 0
	l.Foreign = false
	l.Endpoint = endpoint.Endpoint{}
}

// tryParseMulti recognizes and expands a "prefix{a,b,...}" multi-LFN.
func tryParseMulti(s string, opts *Options) (*LFN, bool, error) {
	open := strings.IndexByte(s, '{')
	if open < 0 || !strings.HasSuffix(s, "}") {
		return nil, false, nil
	}
	prefix := s[:open]
	inner := s[open+1 : len(s)-1]

	var rawEntries []string
	if inner != "" {
		rawEntries = splitTopLevel(inner, ',')
	}
	hasWildcard := false
	for _, e := range rawEntries {
		if strings.ContainsAny(e, "*?") {
			hasWildcard = true
		}
	}
	if len(rawEntries) == 0 && !hasWildcard {
		return nil, false, nil
	}

	// Each entry resolves to zero or more children (a wildcard entry may
	// expand against the Director into several). Resolve entries
	// concurrently since Director.Glob and the recursive Parse calls are
	// independent per entry, then flatten back into entry order.
	perEntry := make([][]*LFN, len(rawEntries))
	g, gctx := errgroup.WithContext(context.Background())
	for i, e := range rawEntries {
		i, e := i, strings.TrimSpace(e)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if strings.ContainsAny(e, "*?") {
				if opts.Director == nil {
					return fmt.Errorf("lfn: wildcard entry %q needs a Director", e)
				}
				names, err := opts.Director.Glob(prefix + e)
				if err != nil {
					return err
				}
				sort.Strings(names)
				entries := make([]*LFN, 0, len(names))
				for _, name := range names {
					var entry string
					if strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
						entry = name[len(prefix):]
					} else {
						entry = "~" + name
					}
					child, err := Parse(joinEntry(prefix, entry), opts)
					if err != nil {
						return err
					}
					entries = append(entries, child)
				}
				perEntry[i] = entries
				return nil
			}
			child, err := Parse(joinEntry(prefix, e), opts)
			if err != nil {
				return err
			}
			perEntry[i] = []*LFN{child}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	children := []*LFN{}
	for _, entries := range perEntry {
		children = append(children, entries...)
	}

	ext := false
	var rendered []string
	for _, c := range children {
		if c.External {
			ext = true
		}
		rendered = append(rendered, entryText(prefix, c))
	}
	canon := prefix + "{" + strings.Join(rendered, ",") + "}"
	return &LFN{Canonical: canon, External: ext, Multi: children}, true, nil
}

func joinEntry(prefix, entry string) string {
	if strings.HasPrefix(entry, "~") {
		return entry
	}
	return prefix + entry
}

func entryText(prefix string, c *LFN) string {
	if strings.HasPrefix(strings.ToLower(c.Canonical), strings.ToLower(prefix)) {
		return c.Canonical[len(prefix):]
	}
	return "~" + c.Canonical
}

// splitTopLevel splits s on sep, ignoring occurrences nested inside { }.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// Copy deep-copies l, including its Multi children.
func (l *LFN) Copy() *LFN {
	cp := *l
	if l.Multi != nil {
		cp.Multi = make([]*LFN, len(l.Multi))
		for i, c := range l.Multi {
			cp.Multi[i] = c.Copy()
		}
	}
	return &cp
}
