// Package mem provides an in-memory dcoord/store backend: a tree guarded by
// per-path lock bookkeeping, the default used by every unit test in this
// module and by the CLI's --store mem mode.
package mem

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/session"
)

func init() {
	store.Register("mem", func(root string) (store.Store, error) {
		return New(), nil
	})
}

// Store is the in-memory backend.
type Store struct {
	sessions *session.Manager

	mu    sync.Mutex
	root  *entry
	locks map[string]*pathLock
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		sessions: session.NewManager(),
		root:     newEntry(store.NewNode("")),
		locks:    make(map[string]*pathLock),
	}
}

// entry is the tree node kept internally; store.Node is the value copied in
// and out at the API boundary so callers never alias internal state.
type entry struct {
	node       *store.Node
	children   map[string]*entry
	autoDelete session.ID // zero if not auto-delete
}

func newEntry(n *store.Node) *entry {
	return &entry{node: n, children: make(map[string]*entry)}
}

type pathLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	mode    store.LockMode
	readers map[*Conn]int
	writer  *Conn
}

func (s *Store) lockFor(p string) *pathLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[p]
	if !ok {
		l = &pathLock{readers: make(map[*Conn]int)}
		l.cond = sync.NewCond(&l.mu)
		s.locks[p] = l
	}
	return l
}

// Connect opens a new session-scoped connection.
func (s *Store) Connect(ctx context.Context) (store.Conn, error) {
	id := s.sessions.New()
	return &Conn{store: s, id: id, held: make(map[string]store.LockMode)}, nil
}

// Conn is a session-scoped handle onto a Store.
type Conn struct {
	store *Store
	id    session.ID

	mu   sync.Mutex
	held map[string]store.LockMode
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

func (s *Store) walk(parts []string, create bool) *entry {
	cur := s.root
	for _, part := range parts {
		next, ok := cur.children[part]
		if !ok {
			if !create {
				return nil
			}
			next = newEntry(store.NewNode(part))
			cur.children[part] = next
		}
		cur = next
	}
	return cur
}

func (c *Conn) acquire(ctx context.Context, p string, mode store.LockMode) error {
	if mode == store.LockNone {
		return nil
	}
	l := c.store.lockFor(p)
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if compatible(l, c, mode) {
			grant(l, c, mode)
			c.mu.Lock()
			c.held[p] = mode
			c.mu.Unlock()
			return nil
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				l.mu.Lock()
				l.cond.Broadcast()
				l.mu.Unlock()
			case <-done:
			}
		}()
		l.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func compatible(l *pathLock, c *Conn, mode store.LockMode) bool {
	switch mode {
	case store.LockRead:
		return l.writer == nil || l.writer == c
	case store.LockWrite:
		if l.writer == c {
			return true
		}
		if l.writer != nil {
			return false
		}
		for other := range l.readers {
			if other != c {
				return false
			}
		}
		return true
	}
	return true
}

func grant(l *pathLock, c *Conn, mode store.LockMode) {
	release(l, c)
	switch mode {
	case store.LockRead:
		l.readers[c]++
	case store.LockWrite:
		l.writer = c
	}
}

func release(l *pathLock, c *Conn) {
	if l.writer == c {
		l.writer = nil
	}
	delete(l.readers, c)
}

func (c *Conn) releasePath(p string) {
	l := c.store.lockFor(p)
	l.mu.Lock()
	release(l, c)
	l.cond.Broadcast()
	l.mu.Unlock()

	c.mu.Lock()
	delete(c.held, p)
	c.mu.Unlock()
}

// Get fetches the node at path under the given lock mode.
func (c *Conn) Get(ctx context.Context, p string, mode store.LockMode) (*store.Node, bool, error) {
	if err := c.acquire(ctx, p, mode); err != nil {
		return nil, false, err
	}
	if mode == store.LockNone {
		c.store.mu.Lock()
		e := c.store.walk(splitPath(p), false)
		var n *store.Node
		if e != nil {
			n = e.node.Clone()
		}
		c.store.mu.Unlock()
		return n, e != nil, nil
	}

	c.store.mu.Lock()
	e := c.store.walk(splitPath(p), false)
	var n *store.Node
	ok := e != nil
	if ok {
		n = e.node.Clone()
	}
	c.store.mu.Unlock()
	if !ok {
		c.releasePath(p)
	}
	return n, ok, nil
}

// Set writes node at path, creating intermediate elements as needed, and
// releases any lock this connection held there.
func (c *Conn) Set(ctx context.Context, p string, n *store.Node) error {
	c.store.mu.Lock()
	e := c.store.walk(splitPath(p), true)
	e.node = n.Clone()
	c.store.mu.Unlock()
	c.releasePath(p)
	return nil
}

// CreateChild appends child under parentPath.
func (c *Conn) CreateChild(ctx context.Context, parentPath string, child *store.Node, autoDelete bool) (string, error) {
	c.store.mu.Lock()
	parent := c.store.walk(splitPath(parentPath), true)
	name := child.Tag
	if _, exists := parent.children[name]; exists {
		// disambiguate repeated tags with a numeric suffix, e.g. Owner, Owner2
		n := 2
		for {
			candidate := child.Tag + itoa(n)
			if _, exists := parent.children[candidate]; !exists {
				name = candidate
				break
			}
			n++
		}
	}
	ce := newEntry(child.Clone())
	if autoDelete {
		ce.autoDelete = c.id
	}
	parent.children[name] = ce
	c.store.mu.Unlock()
	return path.Join(parentPath, name), nil
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
	parent := parts[:len(parts)-1]
	leaf := parts[len(parts)-1]

	c.store.mu.Lock()
	pe := c.store.walk(parent, false)
	if pe != nil {
		delete(pe.children, leaf)
	}
	c.store.mu.Unlock()
	c.releasePath(p)
	return nil
}

// ChangeMode upgrades or downgrades the lock this connection holds on path.
func (c *Conn) ChangeMode(ctx context.Context, p string, mode store.LockMode, timeout time.Duration) error {
	if mode == store.LockNone {
		c.releasePath(p)
		return nil
	}

	deadline := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		deadline, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	l := c.store.lockFor(p)
	l.mu.Lock()
	release(l, c)
	l.cond.Broadcast()
	for !compatible(l, c, mode) {
		done := make(chan struct{})
		go func() {
			select {
			case <-deadline.Done():
				l.mu.Lock()
				l.cond.Broadcast()
				l.mu.Unlock()
			case <-done:
			}
		}()
		l.cond.Wait()
		close(done)
		if err := deadline.Err(); err != nil {
			l.mu.Unlock()
			return store.ErrTimeout
		}
	}
	grant(l, c, mode)
	l.mu.Unlock()

	c.mu.Lock()
	c.held[p] = mode
	c.mu.Unlock()
	return nil
}

// sub is a fan-out subscription: every watcher on the same path waits on
// that path's shared condition variable and gets its own event channel.
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

// Subscribe watches path for changes. The in-memory backend signals
// subscribers whenever Set or Remove touches the exact path, whenever a lock
// on that path is released, and on every auto-delete sweep in Close.
// CreateChild does not signal.
func (c *Conn) Subscribe(ctx context.Context, p string) (store.Subscription, error) {
	l := c.store.lockFor(p)
	s := &sub{ch: make(chan struct{}, 1), closed: make(chan struct{})}
	go func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for {
			l.cond.Wait()
			select {
			case <-s.closed:
				return
			default:
			}
			select {
			case s.ch <- struct{}{}:
			default:
			}
		}
	}()
	return s, nil
}

// Close ends this connection's session and deletes any nodes it created with
// autoDelete set.
func (c *Conn) Close() error {
	c.store.sessions.End(c.id)

	c.store.mu.Lock()
	removeOwned(c.store.root, c.id)
	c.store.mu.Unlock()
	c.store.broadcastAll()

	c.mu.Lock()
	paths := make([]string, 0, len(c.held))
	for p := range c.held {
		paths = append(paths, p)
	}
	c.mu.Unlock()
	for _, p := range paths {
		c.releasePath(p)
	}
	return nil
}

// broadcastAll wakes every subscriber and lock waiter in the store. Used
// after an auto-delete sweep, whose affected paths aren't known precisely
// enough to target a single pathLock's condition variable.
func (s *Store) broadcastAll() {
	s.mu.Lock()
	locks := make([]*pathLock, 0, len(s.locks))
	for _, l := range s.locks {
		locks = append(locks, l)
	}
	s.mu.Unlock()
	for _, l := range locks {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

func removeOwned(e *entry, id session.ID) {
	for name, child := range e.children {
		if child.autoDelete == id {
			delete(e.children, name)
			continue
		}
		removeOwned(child, id)
	}
}
