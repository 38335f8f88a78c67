// Package bucket provides group-name list parsing and a small
// deletion-status cache, adapted from a bucket/path splitting cache to the
// LFN "@group" cluster-list syntax.
package bucket

import (
	"errors"
	"strings"
	"sync"
)

// ErrAlreadyDeleted is returned by Cache.Remove when the name is already
// marked deleted.
var ErrAlreadyDeleted = errors.New("already marked deleted")

// SplitGroupList parses a "@group" attribute value into an ordered,
// deduplicated list of group (cluster) names, the Go port of the original
// getFileGroups(const char *, StringArray &) helper: commas separate group
// names except inside '[' ']' or '(' ')' nesting, and names are lowercased
// unless they equal the literal "SuperFiles" (a historical special case kept
// verbatim by the original source).
func SplitGroupList(grplist string) []string {
	if grplist == "" {
		return nil
	}
	var groups []string
	seen := make(map[string]bool)
	var cur strings.Builder
	var sq, pa int
	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s == "" {
			return
		}
		if s != "SuperFiles" {
			s = strings.ToLower(s)
		}
		if !seen[s] {
			seen[s] = true
			groups = append(groups, s)
		}
	}
	for _, c := range grplist {
		switch {
		case c == ',' && sq == 0 && pa == 0:
			flush()
		case c == '[':
			sq++
			cur.WriteRune(c)
		case c == ']' && sq > 0:
			sq--
			cur.WriteRune(c)
		case c == '(':
			pa++
			cur.WriteRune(c)
		case c == ')' && pa > 0:
			pa--
			cur.WriteRune(c)
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return groups
}

// Cache tracks which group/cluster names are known to exist ("OK") versus
// known to be absent ("deleted"), so a caller need not re-resolve a name it
// has already looked up.
type Cache struct {
	mu     sync.Mutex
	status map[string]bool // true = OK, false = deleted
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{status: make(map[string]bool)}
}

// MarkOK records that name is known to exist.
func (c *Cache) MarkOK(name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[name] = true
}

// MarkDeleted records that name is known to be absent.
func (c *Cache) MarkDeleted(name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[name] = false
}

// IsDeleted reports whether name is known to be absent. Unknown names report
// false (not known to be deleted).
func (c *Cache) IsDeleted(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, found := c.status[name]
	return found && !ok
}

// Create resolves name as present: if the cache already says OK, it's a
// no-op; otherwise it runs create (if name isn't root) and, if create is
// nil, falls back to exists to decide the status.
func (c *Cache) Create(name string, create func() error, exists func() (bool, error)) error {
	if name == "" {
		return nil
	}
	c.mu.Lock()
	ok, found := c.status[name]
	c.mu.Unlock()
	if found && ok {
		return nil
	}
	if create != nil {
		if err := create(); err != nil {
			return err
		}
		c.MarkOK(name)
		return nil
	}
	if exists != nil {
		existsNow, err := exists()
		if err != nil {
			return err
		}
		if existsNow {
			c.MarkOK(name)
		} else {
			c.MarkDeleted(name)
		}
		return nil
	}
	c.MarkOK(name)
	return nil
}

// Remove marks name deleted, running remove to do the actual deletion.
// Removing an already-deleted name returns ErrAlreadyDeleted without calling
// remove.
func (c *Cache) Remove(name string, remove func() error) error {
	if name == "" {
		return nil
	}
	if c.IsDeleted(name) {
		return ErrAlreadyDeleted
	}
	if remove != nil {
		if err := remove(); err != nil {
			return err
		}
	}
	c.MarkDeleted(name)
	return nil
}
