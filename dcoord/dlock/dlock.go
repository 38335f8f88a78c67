// Package dlock implements the named distributed mutex: a lock whose state
// lives in the coordination store so any process in the cluster can
// contend for it, with automatic release on owner crash.
package dlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/internal/dlog"
	"github.com/clusterdfs/dfscoord/lib/pacer"
	"github.com/clusterdfs/dfscoord/session"
)

var log = dlog.For("dlock")

// ErrKilled is returned by Acquire when Kill is called while waiting.
var ErrKilled = errors.New("dlock: acquire killed")

const (
	firstPoll       = time.Minute
	subsequentPoll  = 5 * time.Minute
	writeLockWindow = 5 * time.Minute
)

// SessionChecker reports whether a session id is still connected. The
// standard implementation is *session.Manager.
type SessionChecker interface {
	IsAlive(id session.ID) bool
}

// Notifier surfaces acquire progress to a caller willing to show it.
type Notifier interface {
	StartWait()
	CycleWait()
	StopWait()
}

// pollCalculator is a pacer.Calculator for the acquire-wait poll: the first
// wait is firstPoll, every subsequent one is subsequentPoll.
type pollCalculator struct{}

func (pollCalculator) Calculate(state pacer.State) time.Duration {
	if state.ConsecutiveRetries <= 1 {
		return firstPoll
	}
	return subsequentPoll
}

// Mutex is a named distributed mutex backed by a coordination store.
type Mutex struct {
	name    string
	path    string
	store   store.Store
	checker SessionChecker

	localMu   sync.Mutex
	recursion int
	conn      store.Conn

	killOnce sync.Once
	killCh   chan struct{}
}

// New creates a mutex named name on st, using checker to decide whether a
// recorded owner session is still alive.
func New(st store.Store, name string, checker SessionChecker) *Mutex {
	return &Mutex{
		name:    name,
		path:    "/Locks/Mutex/" + name,
		store:   st,
		checker: checker,
		killCh:  make(chan struct{}),
	}
}

// Kill wakes a blocked Acquire and causes it to return ErrKilled.
func (m *Mutex) Kill() {
	m.killOnce.Do(func() { close(m.killCh) })
}

// Acquire blocks until the mutex is held by this process, timeout elapses,
// ctx is cancelled, or Kill is called. Recursive acquires by a process that
// already holds the mutex succeed immediately.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration, notifier Notifier) error {
	m.localMu.Lock()
	if m.recursion > 0 {
		m.recursion++
		m.localMu.Unlock()
		return nil
	}
	m.localMu.Unlock()

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if notifier != nil {
		notifier.StartWait()
		defer notifier.StopWait()
	}

	var calc pacer.Calculator = pollCalculator{}
	var pollState pacer.State
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.killCh:
			return ErrKilled
		default:
		}

		conn, err := m.store.Connect(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrUnavailable) {
				return err
			}
			pollState.ConsecutiveRetries++
			wait := calc.Calculate(pollState)
			if remaining, ok := deadlineRemaining(ctx); ok && remaining < wait {
				wait = remaining
			}
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			case <-m.killCh:
				return ErrKilled
			}
		}

		acquired, err := m.tryAcquireOnce(ctx, conn)
		if err != nil {
			conn.Close()
			return err
		}
		if acquired {
			m.localMu.Lock()
			m.recursion = 1
			m.conn = conn
			m.localMu.Unlock()
			return nil
		}

		sub, err := conn.Subscribe(ctx, m.path)
		if err != nil {
			conn.Close()
			return err
		}
		if notifier != nil && attempt > 0 {
			notifier.CycleWait()
		}

		pollState.ConsecutiveRetries++
		wait := calc.Calculate(pollState)
		if remaining, ok := deadlineRemaining(ctx); ok && remaining < wait {
			wait = remaining
		}
		select {
		case <-sub.Events():
		case <-time.After(wait):
		case <-ctx.Done():
			sub.Close()
			conn.Close()
			return ctx.Err()
		case <-m.killCh:
			sub.Close()
			conn.Close()
			return ErrKilled
		}
		sub.Close()
		conn.Close()
	}
}

func deadlineRemaining(ctx context.Context) (time.Duration, bool) {
	dl, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(dl), true
}

// lockUpgradeBackoff computes the jittered sleep between a dropped upgrade
// attempt and its retry; overridable in tests so they don't have to wait out
// a real 30-90s window.
var lockUpgradeBackoff = func() time.Duration {
	return pacer.RandomBackoff(30*time.Second, 90*time.Second)
}

// writeLockStepCap bounds each write-lock upgrade attempt; overridable in
// tests so they don't have to wait out the real window.
var writeLockStepCap = writeLockWindow

// safeUpgradeToWrite requests a write lock on path in bounded steps of at
// most writeLockStepCap (capped further by ctx's remaining deadline). If a
// step times out, it drops the lock to NONE — breaking any deadlock chain
// where the current holder is itself waiting on this connection — sleeps a
// random jittered backoff, and retries. ctx's overall deadline is honored
// across retries. reloaded reports whether a drop occurred, meaning any
// state read before this call must be treated as stale and re-fetched.
func safeUpgradeToWrite(ctx context.Context, conn store.Conn, path string) (reloaded bool, err error) {
	for {
		step := writeLockStepCap
		if remaining, ok := deadlineRemaining(ctx); ok {
			if remaining <= 0 {
				return reloaded, store.ErrTimeout
			}
			if remaining < step {
				step = remaining
			}
		}

		err := conn.ChangeMode(ctx, path, store.LockWrite, step)
		if err == nil {
			return reloaded, nil
		}
		if !errors.Is(err, store.ErrTimeout) {
			return reloaded, err
		}

		if dErr := conn.ChangeMode(ctx, path, store.LockNone, 0); dErr != nil {
			return reloaded, dErr
		}
		reloaded = true

		select {
		case <-time.After(lockUpgradeBackoff()):
		case <-ctx.Done():
			return reloaded, ctx.Err()
		}
	}
}

// tryAcquireOnce opens the mutex node under a write lock, checks the
// current owner, and — if absent or dead — creates a fresh auto-delete
// Owner child carrying this connection's session id. The write lock is
// held only for the duration of this check-and-create; ownership itself
// is represented by conn staying open with the Owner child marked
// auto-delete, not by a continuously-held lock.
func (m *Mutex) tryAcquireOnce(ctx context.Context, conn store.Conn) (acquired bool, err error) {
	reloaded, err := safeUpgradeToWrite(ctx, conn, m.path)
	if err != nil {
		return false, err
	}
	defer conn.ChangeMode(ctx, m.path, store.LockNone, 0)
	if reloaded {
		log.WithField("name", m.name).Info("lock upgrade required a deadlock-breaking drop; reloading mutex node")
	}

	node, ok, err := conn.Get(ctx, m.path, store.LockNone)
	if err != nil {
		return false, err
	}
	if !ok {
		node = store.NewNode("Mutex")
		node.SetProp("name", m.name)
		if err := conn.Set(ctx, m.path, node); err != nil {
			return false, err
		}
	}

	owner, _, err := conn.Get(ctx, m.path+"/Owner", store.LockNone)
	if err != nil {
		return false, err
	}
	dead := true
	if owner != nil {
		sessionStr, _ := owner.Prop("session")
		id, perr := parseSessionID(sessionStr)
		if perr == nil && m.checker.IsAlive(id) {
			dead = false
		}
	}
	if owner != nil && !dead {
		return false, nil
	}
	if owner != nil && dead {
		if err := conn.Remove(ctx, m.path+"/Owner"); err != nil {
			return false, err
		}
	}

	ownerNode := store.NewNode("Owner")
	ownerNode.SetProp("session", conn.SessionID().String())
	if _, err := conn.CreateChild(ctx, m.path, ownerNode, true); err != nil {
		return false, err
	}
	return true, nil
}

func parseSessionID(s string) (session.ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return session.Nil, err
	}
	return session.ID(u), nil
}

// Release decrements the recursion counter; at zero it drops the
// connection holding the Owner node, triggering its auto-delete and
// freeing the mutex for the next contender.
func (m *Mutex) Release() error {
	m.localMu.Lock()
	if m.recursion == 0 {
		m.localMu.Unlock()
		return errors.New("dlock: release of an unheld mutex")
	}
	m.recursion--
	if m.recursion > 0 {
		m.localMu.Unlock()
		return nil
	}
	conn := m.conn
	m.conn = nil
	m.localMu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		log.WithField("name", m.name).WithError(err).Warn("error releasing mutex connection")
		return err
	}
	return nil
}
