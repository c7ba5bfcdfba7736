package adapter

import (
	"context"
	"database/sql"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedStmt counts the callers currently using a statement. An evicted
// statement is closed once the last of them releases it.
type cachedStmt struct {
	stmt    *sql.Stmt
	refs    int
	evicted bool
}

// stmtCache keeps prepared statements of persistent queries per target.
// Evicted statements are closed when no caller holds them.
type stmtCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *cachedStmt]
}

func newStmtCache(size int) (*stmtCache, error) {
	cache, err := lru.NewWithEvict(size, func(_ string, entry *cachedStmt) {
		// runs under c.mu: Add and Purge are only called with the lock held
		entry.evicted = true
		if entry.refs == 0 {
			_ = entry.stmt.Close()
		}
	})
	if err != nil {
		return nil, err
	}

	return &stmtCache{cache: cache}, nil
}

// prepare returns the cached statement for query, preparing it on a miss.
// The caller must call release when it no longer uses the statement.
// The lock is not held while preparing, since that may wait for a connection
// that another caller only returns after release.
func (c *stmtCache) prepare(ctx context.Context, target DBExecutor, query string) (*sql.Stmt, func(), error) {
	if entry, ok := c.acquire(query); ok {
		return entry.stmt, func() { c.release(entry) }, nil
	}

	stmt, err := target.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(query)
	if ok {
		// prepared concurrently by another caller
		_ = stmt.Close()
	} else {
		entry = &cachedStmt{stmt: stmt}
		c.cache.Add(query, entry)
	}

	entry.refs++

	return entry.stmt, func() { c.release(entry) }, nil
}

func (c *stmtCache) acquire(query string) (*cachedStmt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(query)
	if ok {
		entry.refs++
	}

	return entry, ok
}

func (c *stmtCache) release(entry *cachedStmt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.refs--
	if entry.evicted && entry.refs == 0 {
		_ = entry.stmt.Close()
	}
}

func (c *stmtCache) len() int {
	return c.cache.Len()
}

// purge evicts every cached statement.
func (c *stmtCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
}
