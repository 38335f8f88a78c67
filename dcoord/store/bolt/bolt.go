// Package bolt provides a go.etcd.io/bbolt-backed dcoord/store, for the CLI's
// --store bolt mode: a coordination store that survives process restarts,
// with the property tree flattened into nested buckets.
package bolt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/session"
)

func init() {
	store.Register("bolt", func(root string) (store.Store, error) {
		return Open(root)
	})
}

var nodeKey = []byte("\x00node")

// Store is a bbolt-backed coordination store. Each Get, Set, CreateChild and
// Remove runs in its own bbolt transaction, which serializes writers; no lock
// is held across a Get/Set pair. mu guards only the per-session auto-delete
// bookkeeping in owned.
type Store struct {
	db       *bolt.DB
	sessions *session.Manager

	mu    sync.Mutex
	owned map[session.ID]map[string]bool
}

// Open opens (creating if absent) a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, sessions: session.NewManager(), owned: make(map[session.ID]map[string]bool)}, nil
}

// Connect opens a new session-scoped connection.
func (s *Store) Connect(ctx context.Context) (store.Conn, error) {
	id := s.sessions.New()
	s.mu.Lock()
	s.owned[id] = make(map[string]bool)
	s.mu.Unlock()
	return &Conn{store: s, id: id}, nil
}

// Conn is a session-scoped handle onto a Store.
type Conn struct {
	store *Store
	id    session.ID
}

// SessionID returns the session id backing this connection.
func (c *Conn) SessionID() session.ID { return c.id }

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

type wireNode struct {
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Blob  []byte            `json:"blob,omitempty"`
}

// Get fetches the node at path. The lock mode is ignored on this backend:
// bbolt serializes writers itself, so the mode argument only documents
// caller intent here.
func (c *Conn) Get(ctx context.Context, p string, mode store.LockMode) (*store.Node, bool, error) {
	var n *store.Node
	var found bool
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b := descend(tx, splitPath(p), false)
		if b == nil {
			return nil
		}
		raw := b.Get(nodeKey)
		if raw == nil {
			return nil
		}
		var w wireNode
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		found = true
		n = &store.Node{Tag: w.Tag, Attrs: w.Attrs, Blob: w.Blob}
		return nil
	})
	return n, found, err
}

func descend(tx *bolt.Tx, parts []string, create bool) *bolt.Bucket {
	var b *bolt.Bucket
	for i, part := range parts {
		var next *bolt.Bucket
		var err error
		if i == 0 {
			if create {
				next, err = tx.CreateBucketIfNotExists([]byte(part))
			} else {
				next = tx.Bucket([]byte(part))
			}
		} else {
			if create {
				next, err = b.CreateBucketIfNotExists([]byte(part))
			} else {
				next = b.Bucket([]byte(part))
			}
		}
		if err != nil || next == nil {
			return nil
		}
		b = next
	}
	return b
}

// Set writes node at path, creating intermediate buckets as needed.
func (c *Conn) Set(ctx context.Context, p string, n *store.Node) error {
	raw, err := json.Marshal(wireNode{Tag: n.Tag, Attrs: n.Attrs, Blob: n.Blob})
	if err != nil {
		return err
	}
	return c.store.db.Update(func(tx *bolt.Tx) error {
		b := descend(tx, splitPath(p), true)
		if b == nil {
			return store.ErrUnavailable
		}
		return b.Put(nodeKey, raw)
	})
}

// CreateChild appends child under parentPath.
func (c *Conn) CreateChild(ctx context.Context, parentPath string, child *store.Node, autoDelete bool) (string, error) {
	raw, err := json.Marshal(wireNode{Tag: child.Tag, Attrs: child.Attrs, Blob: child.Blob})
	if err != nil {
		return "", err
	}
	var childPath string
	err = c.store.db.Update(func(tx *bolt.Tx) error {
		parent := descend(tx, splitPath(parentPath), true)
		name := child.Tag
		n := 2
		for parent.Bucket([]byte(name)) != nil {
			name = child.Tag + itoa(n)
			n++
		}
		cb, err := parent.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		childPath = strings.TrimRight(parentPath, "/") + "/" + name
		return cb.Put(nodeKey, raw)
	})
	if err != nil {
		return "", err
	}
	if autoDelete {
		c.store.mu.Lock()
		c.store.owned[c.id][childPath] = true
		c.store.mu.Unlock()
	}
	return childPath, nil
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

// Remove deletes the node at path, if present.
func (c *Conn) Remove(ctx context.Context, p string) error {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil
	}
	return c.store.db.Update(func(tx *bolt.Tx) error {
		parent := descend(tx, parts[:len(parts)-1], false)
		if parent == nil {
			return nil
		}
		return parent.DeleteBucket([]byte(parts[len(parts)-1]))
	})
}

// ChangeMode is a no-op on this backend beyond honoring cancellation:
// bbolt's single-writer transaction model already serializes writers, so
// there is no separate lock state to upgrade or release.
func (c *Conn) ChangeMode(ctx context.Context, p string, mode store.LockMode, timeout time.Duration) error {
	return ctx.Err()
}

type sub struct {
	ch     chan struct{}
	closed chan struct{}
}

func (s *sub) Events() <-chan struct{} { return s.ch }
func (s *sub) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// Subscribe polls path every second for changes, since bbolt has no native
// change-notification mechanism.
func (c *Conn) Subscribe(ctx context.Context, p string) (store.Subscription, error) {
	s := &sub{ch: make(chan struct{}, 1), closed: make(chan struct{})}
	last, _, _ := c.Get(ctx, p, store.LockNone)
	lastRaw, _ := json.Marshal(last)
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-s.closed:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				cur, _, _ := c.Get(ctx, p, store.LockNone)
				curRaw, _ := json.Marshal(cur)
				if string(curRaw) != string(lastRaw) {
					lastRaw = curRaw
					select {
					case s.ch <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return s, nil
}

// Close ends this connection's session and removes any auto-delete nodes it
// created.
func (c *Conn) Close() error {
	c.store.sessions.End(c.id)
	c.store.mu.Lock()
	paths := c.store.owned[c.id]
	delete(c.store.owned, c.id)
	c.store.mu.Unlock()
	for p := range paths {
		c.Remove(context.Background(), p)
	}
	return nil
}
