package query

import (
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 10 * time.Minute
)

// Cache keeps compiled templates keyed by a hash of their source.
// Cached templates are immutable, so concurrent readers share them.
type Cache struct {
	lru *expirable.LRU[uint64, *Template]
}

// NewCache creates a template cache. Non-positive arguments select the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}

	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Cache{lru: expirable.NewLRU[uint64, *Template](size, nil, ttl)}
}

// Compile returns the cached template for source, compiling it on a miss.
func (c *Cache) Compile(source string) (*Template, error) {
	return c.compile("", source)
}

// Load reads a template file and compiles it through the cache.
func (c *Cache) Load(path string) (*Template, error) {
	data, err := readTemplate(path)
	if err != nil {
		return nil, err
	}

	return c.compile(filepath.Base(path), data)
}

func (c *Cache) compile(name, source string) (*Template, error) {
	key := xxhash.Sum64String(source)

	// a hash collision compiles the new source without replacing the entry
	if tmpl, ok := c.lru.Get(key); ok {
		if tmpl.source == source {
			return tmpl, nil
		}

		return compileNamed(name, source)
	}

	tmpl, err := compileNamed(name, source)
	if err != nil {
		return nil, err
	}

	c.lru.Add(key, tmpl)

	return tmpl, nil
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached template.
func (c *Cache) Purge() {
	c.lru.Purge()
}
