// Package drivecache holds the two caches the path resolver and readdir
// path consult: the bounded, TTL-based directory listing cache (C4) and
// the in-progress upload index (C5), whose entries have no TTL and no
// capacity bound. Both build on
// github.com/patrickmn/go-cache, generalized from a single global
// instance into instantiable, independently configurable caches.
package drivecache

import (
	"path"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"aliyundrive-webdav/aliyundrive"
)

// DirCache is C4: a bounded TTL cache mapping directory path -> child
// entries. Reads are lock-free snapshots (go-cache uses an RWMutex
// internally); concurrent insertions for the same key are permitted, last
// writer wins.
type DirCache struct {
	ttl   time.Duration
	cache *gocache.Cache
	// capacity is advisory here: go-cache has no hard eviction cap, so it
	// is enforced by an approximate-LRU sweep triggered on insert once
	// the item count exceeds capacity (go-cache's own janitor only evicts
	// by expiry, not by count — see DESIGN.md for why this extra pass is
	// needed to honor the bounded-capacity, LRU-eviction requirement).
	capacity int
}

// NewDirCache builds a directory cache with the given capacity (default
// 1000) and TTL (default 600s).
func NewDirCache(capacity int, ttl time.Duration) *DirCache {
	c := gocache.New(ttl, ttl/2)
	return &DirCache{ttl: ttl, cache: c, capacity: capacity}
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean("/" + p)
	return p
}

// Get returns a cached listing, or nil if absent/expired.
func (d *DirCache) Get(dirPath string) []*aliyundrive.Entry {
	v, ok := d.cache.Get(normalize(dirPath))
	if !ok {
		return nil
	}
	entries, ok := v.([]*aliyundrive.Entry)
	if !ok {
		return nil
	}
	return entries
}

// Insert stores a directory listing under its path, evicting the oldest
// entry first if capacity would be exceeded.
func (d *DirCache) Insert(dirPath string, entries []*aliyundrive.Entry) {
	key := normalize(dirPath)
	if d.capacity > 0 && d.cache.ItemCount() >= d.capacity {
		d.evictOne()
	}
	d.cache.Set(key, entries, d.ttl)
}

// evictOne drops the earliest-inserted item when the cache is at
// capacity. Every item is stored with the same TTL, so the earliest
// expiration marks the oldest insertion. go-cache doesn't expose read
// recency, so eviction is by insertion age, an approximation of LRU.
func (d *DirCache) evictOne() {
	var oldestKey string
	var oldest int64
	for k, item := range d.cache.Items() {
		if oldestKey == "" || item.Expiration < oldest {
			oldestKey, oldest = k, item.Expiration
		}
	}
	if oldestKey != "" {
		d.cache.Delete(oldestKey)
	}
}

// Invalidate drops the cached listing for exactly this path.
func (d *DirCache) Invalidate(dirPath string) {
	d.cache.Delete(normalize(dirPath))
}

// InvalidateParent drops the cached listing for this path's parent
// directory, so the next readdir of the parent reflects a mutation to
// this path.
func (d *DirCache) InvalidateParent(p string) {
	d.Invalidate(parentOf(p))
}

// InvalidateAll flushes the entire cache; wired to SIGHUP.
func (d *DirCache) InvalidateAll() {
	logrus.Debug("directory cache: invalidate all")
	d.cache.Flush()
}

func parentOf(p string) string {
	p = normalize(p)
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}
