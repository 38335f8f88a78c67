// Package redirect implements the logical-name redirection table: an
// ordered list of pattern/replacement rules stored in the coordination
// store, consulted whenever a caller resolves a logical file name.
package redirect

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/lfn"
)

const path = "/Files/Redirection"

const minReload = time.Second

// Rule is one redirection entry.
type Rule struct {
	Pattern     string
	Replacement string
	Wildcard    bool
}

// ErrBlocked is returned by Match when a rule's empty replacement blocks
// further resolution of the name.
var ErrBlocked = errors.New("redirect: blocked by a rule with an empty replacement")

// Table is the process-wide redirection table singleton.
type Table struct {
	st store.Store

	mu       sync.RWMutex
	rules    []Rule
	version  int
	lastLoad time.Time

	outstanding int32
}

// New creates a Table backed by st.
func New(st store.Store) *Table {
	return &Table{st: st}
}

// Match resolves name against the table's rules in order. A wildcard rule
// performs a '*'/'?' glob match with backreference substitution into its
// replacement; a non-wildcard rule is a case-insensitive equality check.
// An empty-replacement rule that matches is a blocker: Match returns
// ErrBlocked and no further rules are tried. A non-empty match is parsed
// as an LFN and returned.
func (t *Table) Match(ctx context.Context, name string) (*lfn.LFN, error) {
	if err := t.reload(ctx); err != nil {
		return nil, err
	}
	atomic.AddInt32(&t.outstanding, 1)
	defer atomic.AddInt32(&t.outstanding, -1)

	t.mu.RLock()
	rules := t.rules
	t.mu.RUnlock()

	for _, r := range rules {
		if r.Wildcard {
			captures, ok := matchGlob(r.Pattern, name)
			if !ok {
				continue
			}
			if r.Replacement == "" {
				return nil, ErrBlocked
			}
			resolved := substitute(r.Replacement, captures)
			return lfn.Parse(resolved, nil)
		}
		if strings.EqualFold(r.Pattern, name) {
			if r.Replacement == "" {
				return nil, ErrBlocked
			}
			return lfn.Parse(r.Replacement, nil)
		}
	}
	return nil, nil
}

// reload refreshes the table from the store if the min-reload interval has
// elapsed and no iterator currently holds the table.
func (t *Table) reload(ctx context.Context) error {
	t.mu.Lock()
	if atomic.LoadInt32(&t.outstanding) > 0 {
		t.mu.Unlock()
		return nil
	}
	if time.Since(t.lastLoad) < minReload && !t.lastLoad.IsZero() {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := t.st.Connect(ctx)
	if err != nil {
		// store unavailable: redirection clears and returns empty
		t.mu.Lock()
		t.rules = nil
		t.mu.Unlock()
		return nil
	}
	defer conn.Close()

	node, ok, err := conn.Get(ctx, path, store.LockNone)
	if err != nil {
		if errors.Is(err, store.ErrConnectionClosed) {
			return nil
		}
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !ok {
		t.rules = nil
		t.version = 0
		t.lastLoad = time.Now()
		return nil
	}
	rules, err := decodeMaps(node.Blob)
	if err != nil {
		return err
	}
	t.rules = rules
	t.version = atoiSafe(node.Attrs["version"])
	t.lastLoad = time.Now()
	return nil
}

// Update inserts a rule before the rule currently at index, increments the
// table's version, and rewrites the Maps blob. index == len(rules) appends;
// an out-of-range index also appends, matching at-the-end insertion rather
// than clobbering an existing rule.
func (t *Table) Update(ctx context.Context, index int, pattern, replacement string) error {
	conn, err := t.st.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	t.mu.Lock()
	rules := append([]Rule(nil), t.rules...)
	t.mu.Unlock()

	rule := Rule{Pattern: pattern, Replacement: replacement, Wildcard: isWildcard(pattern, replacement)}
	if index < 0 || index > len(rules) {
		index = len(rules)
	}
	rules = append(rules, Rule{})
	copy(rules[index+1:], rules[index:])
	rules[index] = rule

	node := store.NewNode("Redirection")
	newVersion := t.version + 1
	node.SetProp("version", itoa(newVersion))
	node.Blob = encodeMaps(rules)
	if err := conn.Set(ctx, path, node); err != nil {
		return err
	}

	t.mu.Lock()
	t.rules = rules
	t.version = newVersion
	t.lastLoad = time.Time{} // force a reload on next Match
	t.mu.Unlock()
	return nil
}

func decodeMaps(b []byte) ([]Rule, error) {
	if len(b) < 4 {
		return nil, nil
	}
	count := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	rules := make([]Rule, 0, count)
	for i := uint32(0); i < count; i++ {
		pattern, rest, err := readCString(b)
		if err != nil {
			return nil, err
		}
		replacement, rest2, err := readCString(rest)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{
			Pattern:     pattern,
			Replacement: replacement,
			Wildcard:    isWildcard(pattern, replacement),
		})
		b = rest2
	}
	return rules, nil
}

func encodeMaps(rules []Rule) []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(rules)))
	buf.Write(count[:])
	for _, r := range rules {
		buf.WriteString(r.Pattern)
		buf.WriteByte(0)
		buf.WriteString(r.Replacement)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func readCString(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errors.New("redirect: truncated Maps blob")
	}
	return string(b[:i]), b[i+1:], nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
