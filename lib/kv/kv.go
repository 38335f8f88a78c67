// Package kv implements a ref-counted, process-wide named singleton: calling
// Start with the same facility name twice returns the same *DB and bumps a
// reference count; Stop decrements it and releases the underlying resource
// only when the count reaches zero. It is the generic shape behind the
// process-wide paged-query-cache service.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrInactive is returned by Stop when called on a *DB that is already fully
// stopped.
var ErrInactive = errors.New("kv: database is not active")

// Opener constructs the resource backing a facility the first time it is
// started.
type Opener func(ctx context.Context, facility string) (Closer, error)

// Closer is the resource lifecycle a facility's Opener returns.
type Closer interface {
	Close() error
}

// DB is a ref-counted handle onto a named singleton resource.
type DB struct {
	facility string
	resource Closer
	refs     int
}

// Resource returns the underlying resource created by Opener.
func (db *DB) Resource() Closer {
	return db.resource
}

var (
	mu    sync.Mutex
	dbMap = map[string]*DB{}
)

// Start returns the singleton *DB for facility, creating it via open if this
// is the first Start for that name, and incrementing its reference count
// otherwise. Concurrent Start calls for the same facility are serialized and
// converge on a single *DB.
func Start(ctx context.Context, facility string, open Opener) (*DB, error) {
	mu.Lock()
	defer mu.Unlock()
	if db, ok := dbMap[facility]; ok {
		db.refs++
		return db, nil
	}
	var resource Closer
	if open != nil {
		var err error
		resource, err = open(ctx, facility)
		if err != nil {
			return nil, err
		}
	}
	db := &DB{facility: facility, resource: resource, refs: 1}
	dbMap[facility] = db
	return db, nil
}

// Stop decrements db's reference count, closing its resource and removing it
// from the singleton table when the count reaches zero. force closes and
// removes it unconditionally. Calling Stop on an already-fully-stopped DB
// returns ErrInactive.
func (db *DB) Stop(force bool) error {
	mu.Lock()
	defer mu.Unlock()
	if db.refs <= 0 {
		return ErrInactive
	}
	if force {
		db.refs = 0
	} else {
		db.refs--
	}
	if db.refs > 0 {
		return nil
	}
	delete(dbMap, db.facility)
	if db.resource != nil {
		return db.resource.Close()
	}
	return nil
}

// Active reports how many facilities currently have a live singleton. Used
// by tests and by shutdown code that wants to know whether anything is still
// outstanding.
func Active() int {
	mu.Lock()
	defer mu.Unlock()
	return len(dbMap)
}
