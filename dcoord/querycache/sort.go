package querycache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/clusterdfs/dfscoord/dcoord/store"
)

// sortKey is one parsed element of a sort spec: a comma-separated list of
// keys, each optionally prefixed with '-' (reverse), '?' (case-insensitive),
// or '#' (numeric); "@" alone means "node tag/name".
type sortKey struct {
	field    string
	isName   bool
	reverse  bool
	ci       bool
	numeric  bool
}

func parseSortSpec(spec string) []sortKey {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	var keys []sortKey
	for _, raw := range strings.Split(spec, ",") {
		k := sortKey{}
		p := raw
	modifiers:
		for len(p) > 0 {
			switch p[0] {
			case '-':
				k.reverse = true
				p = p[1:]
			case '?':
				k.ci = true
				p = p[1:]
			case '#':
				k.numeric = true
				p = p[1:]
			default:
				break modifiers
			}
		}
		if p == "@" || p == "" {
			k.isName = true
		} else {
			k.field = p
		}
		keys = append(keys, k)
	}
	return keys
}

func keyValue(n *store.Node, k sortKey) string {
	if k.isName {
		return n.Tag
	}
	v, _ := n.Prop(k.field)
	return v
}

func compareKeys(a, b *store.Node, keys []sortKey) int {
	for _, k := range keys {
		av, bv := keyValue(a, k), keyValue(b, k)
		c := compareOne(av, bv, k)
		if c != 0 {
			if k.reverse {
				c = -c
			}
			return c
		}
	}
	return 0
}

func compareOne(a, b string, k sortKey) int {
	if k.numeric {
		af, aerr := strconv.ParseFloat(a, 64)
		bf, berr := strconv.ParseFloat(b, 64)
		if aerr == nil && berr == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if k.ci {
		a, b = strings.ToLower(a), strings.ToLower(b)
	}
	return strings.Compare(a, b)
}

// Sort stably orders nodes per spec, preserving input order for equal keys.
// sort.SliceStable already gives us the tie-break-by-original-index
// behavior the comparator needs, so no custom tie-break bookkeeping.
func Sort(nodes []*store.Node, spec string) []*store.Node {
	keys := parseSortSpec(spec)
	out := append([]*store.Node(nil), nodes...)
	if len(keys) == 0 {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareKeys(out[i], out[j], keys) < 0
	})
	return out
}

// filterByNameRange keeps only nodes whose tag falls within [lo, hi]
// (either bound optional, inclusive).
func filterByNameRange(nodes []*store.Node, lo, hi string) []*store.Node {
	if lo == "" && hi == "" {
		return nodes
	}
	out := make([]*store.Node, 0, len(nodes))
	for _, n := range nodes {
		if lo != "" && n.Tag < lo {
			continue
		}
		if hi != "" && n.Tag > hi {
			continue
		}
		out = append(out, n)
	}
	return out
}
