package sqlbridge

import (
	"container/list"
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
)

// stmtCache implements a per-connection LRU cache of prepared
// statements. Identity is the exact execution text: the same text on
// the same connection always yields the same handle, and a handle
// never leaves the connection that prepared it.
type stmtCache struct {
	cap    int
	mu     sync.Mutex
	ll     *list.List               // front = most recently used
	m      map[string]*list.Element // sql -> element
	hits   uint64
	misses uint64
}

// stmtEntry is published before preparation finishes; ready is closed
// once stmt/err settle, so concurrent first uses of a text wait for
// one preparation instead of racing their own.
type stmtEntry struct {
	key   string
	stmt  *sql.Stmt
	err   error
	ready chan struct{}
}

func (e *stmtEntry) settled() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

func newStmtCache(capacity int) *stmtCache {
	if capacity < 0 { capacity = 0 }
	return &stmtCache{cap: capacity, ll: list.New(), m: make(map[string]*list.Element)}
}

// getOrPrepare returns the statement handle for query, preparing it on
// first use. The bool reports whether the handle came from the cache.
func (c *stmtCache) getOrPrepare(ctx context.Context, conn *sql.Conn, query string) (*sql.Stmt, bool, error) {
	if c == nil || c.cap == 0 {
		// no caching
		st, err := conn.PrepareContext(ctx, query)
		return st, false, err
	}
	c.mu.Lock()
	if ele, ok := c.m[query]; ok {
		ent := ele.Value.(*stmtEntry)
		c.ll.MoveToFront(ele)
		c.mu.Unlock()
		<-ent.ready
		if ent.err != nil { return nil, false, ent.err }
		atomic.AddUint64(&c.hits, 1)
		return ent.stmt, true, nil
	}
	// First use of this text on this connection: publish a pending
	// entry, then prepare outside the lock. Racers find the entry and
	// wait on ready.
	ent := &stmtEntry{key: query, ready: make(chan struct{})}
	ele := c.ll.PushFront(ent)
	c.m[query] = ele
	if c.ll.Len() > c.cap {
		c.evictLRU()
	}
	c.mu.Unlock()

	st, err := conn.PrepareContext(ctx, query)

	c.mu.Lock()
	ent.stmt, ent.err = st, err
	close(ent.ready)
	if err != nil {
		// failed preparations are not cached; the next use retries
		if cur, ok := c.m[query]; ok && cur == ele {
			c.ll.Remove(ele)
			delete(c.m, query)
		}
		c.mu.Unlock()
		return nil, false, err
	}
	atomic.AddUint64(&c.misses, 1)
	c.mu.Unlock()
	return st, false, nil
}

// evictLRU drops the least recently used settled entry. Entries still
// preparing are skipped; the cache may briefly exceed cap while many
// first uses are in flight.
func (c *stmtCache) evictLRU() {
	for ele := c.ll.Back(); ele != nil; ele = ele.Prev() {
		ent := ele.Value.(*stmtEntry)
		if !ent.settled() { continue }
		c.ll.Remove(ele)
		delete(c.m, ent.key)
		if ent.stmt != nil { _ = ent.stmt.Close() }
		return
	}
}

func (c *stmtCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.ll.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*stmtEntry)
		if ent.settled() && ent.stmt != nil {
			_ = ent.stmt.Close()
		}
	}
	c.ll.Init()
	for k := range c.m { delete(c.m, k) }
}

func (c *stmtCache) stats() (hits, misses uint64, size int) {
	if c == nil { return 0, 0, 0 }
	hits = atomic.LoadUint64(&c.hits)
	misses = atomic.LoadUint64(&c.misses)
	c.mu.Lock()
	size = c.ll.Len()
	c.mu.Unlock()
	return
}
