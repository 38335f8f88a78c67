// Package querycache implements the sorted, paged query result cache: a
// process-wide singleton that sorts a snapshot of nodes once, then serves
// successive pages (and a lazily-evaluated post-filter) out of a cached,
// hint-addressed result set until it expires.
package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/google/uuid"

	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/lib/kv"
)

const ttl = 10 * time.Minute

// PostFilter admits or rejects a row after sorting and name-range
// filtering have already run.
type PostFilter func(*store.Node) bool

type resultSet struct {
	mu        sync.Mutex
	rows      []*store.Node
	passed    []bool
	evaluated int
}

func (r *resultSet) ensureEvaluated(f PostFilter, upTo int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.evaluated < upTo && r.evaluated < len(r.rows) {
		r.passed[r.evaluated] = f(r.rows[r.evaluated])
		r.evaluated++
	}
}

// Cache is the paged-query result cache.
type Cache struct {
	c *gocache.Cache
}

func newCache() *Cache {
	return &Cache{c: gocache.New(ttl, time.Minute)}
}

type cacheResource struct{ *Cache }

func (cacheResource) Close() error { return nil }

// Open starts (or joins, if already running in this process) the
// querycache singleton via lib/kv's ref-counted facility lifecycle —
// concurrent Open calls converge on one shared Cache.
func Open(ctx context.Context) (*Cache, func() error, error) {
	db, err := kv.Start(ctx, "querycache", func(ctx context.Context, facility string) (kv.Closer, error) {
		return cacheResource{newCache()}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	c := db.Resource().(cacheResource).Cache
	return c, func() error { return db.Stop(false) }, nil
}

func cacheKey(owner, hint string) string { return owner + "\x00" + hint }

// GetElementsPaged is the paged-query entry point.
//
//   - If hint is non-empty, a cached result set owned by owner is reused,
//     including its post-filter decisions so far — no store connection is
//     opened in this case.
//   - Otherwise the sort is performed over a fresh connection: basePath's
//     node is fetched (its Children are the candidate row set), sorted by
//     sortSpec, filtered to [nameLo, nameHi], and a fresh result set is
//     cached under a new hint.
//   - If postFilter is non-nil, rows are walked in order, extending a
//     bitset of pass/fail decisions and a high-water mark; passing rows
//     from index start onward (up to pageSize) are returned. If
//     wantTotal is set, the walk continues past the page to count every
//     passing row.
//
// If the store is unavailable — Connect fails, or basePath's connection
// drops mid-call — GetElementsPaged returns a null result (all zero
// values, no error), matching every other store client's
// store-unavailable handling.
func (c *Cache) GetElementsPaged(
	ctx context.Context,
	st store.Store,
	basePath string,
	owner, hint string,
	sortSpec string,
	start, pageSize int,
	postFilter PostFilter,
	nameLo, nameHi string,
	wantTotal bool,
) (page []*store.Node, total *int, newHint string, err error) {
	var rs *resultSet
	if hint != "" {
		if v, ok := c.c.Get(cacheKey(owner, hint)); ok {
			rs = v.(*resultSet)
			page, total = paginate(rs, postFilter, start, pageSize, wantTotal)
			c.c.Set(cacheKey(owner, hint), rs, gocache.DefaultExpiration)
			return page, total, hint, nil
		}
	}

	nodes, ok, err := fetchRows(ctx, st, basePath)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrConnectionClosed) {
			return nil, nil, "", nil
		}
		return nil, nil, "", err
	}
	if !ok {
		return nil, nil, "", nil
	}

	sorted := Sort(nodes, sortSpec)
	filtered := filterByNameRange(sorted, nameLo, nameHi)
	rs = &resultSet{rows: filtered, passed: make([]bool, len(filtered))}
	page, total = paginate(rs, postFilter, start, pageSize, wantTotal)

	newHint = uuid.NewString()
	c.c.Set(cacheKey(owner, newHint), rs, gocache.DefaultExpiration)
	return page, total, newHint, nil
}

// fetchRows opens a fresh connection to st, fetches basePath under a read
// lock, and returns its Children as the candidate row set.
func fetchRows(ctx context.Context, st store.Store, basePath string) ([]*store.Node, bool, error) {
	conn, err := st.Connect(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	node, ok, err := conn.Get(ctx, basePath, store.LockRead)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return node.Children, true, nil
}

func paginate(rs *resultSet, postFilter PostFilter, start, pageSize int, wantTotal bool) ([]*store.Node, *int) {
	if postFilter == nil {
		end := start + pageSize
		if start > len(rs.rows) {
			start = len(rs.rows)
		}
		if end > len(rs.rows) {
			end = len(rs.rows)
		}
		page := rs.rows[start:end]
		var total *int
		if wantTotal {
			t := len(rs.rows)
			total = &t
		}
		return page, total
	}

	var page []*store.Node
	passedCount := 0
	for i := 0; i < len(rs.rows); i++ {
		if len(page) >= pageSize && !wantTotal {
			break
		}
		rs.ensureEvaluated(postFilter, i+1)
		if !rs.passed[i] {
			continue
		}
		if passedCount >= start && len(page) < pageSize {
			page = append(page, rs.rows[i])
		}
		passedCount++
	}
	var total *int
	if wantTotal {
		t := passedCount
		total = &t
	}
	return page, total
}

// Clear drops a cached result set, tolerating it already being gone.
func (c *Cache) Clear(owner, hint string) {
	c.c.Delete(cacheKey(owner, hint))
}
