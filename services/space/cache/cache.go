// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache accelerates path resolution with a sharded LRU of leaf
// handles. Handles carry the tree epoch they were resolved under, so a
// Clear invalidates every outstanding handle in one atomic bump instead
// of a scan.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/pathspace/services/space/path"
	"github.com/AleutianAI/pathspace/services/space/tree"
)

// Cache provides LRU caching of path→leaf resolutions.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. Handles spread over independently
//	locked shards by path hash, so lookups and stores on distinct paths
//	rarely contend and no operation takes a cache-wide lock. Stats
//	counters are atomic.
type Cache struct {
	options  Options
	perShard int
	shards   []*cacheShard
	flight   singleflight.Group

	// Stats
	hits          int64
	misses        int64
	evictions     int64
	expirations   int64
	stores        int64
	invalidations int64
}

// cacheShard is one lock domain: a slice of the handle map with its own
// LRU list, so recency lives under the same lock as the entries it
// orders.
type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*Handle
	lru     *list.List
}

// New creates a Cache with the given options.
func New(opts ...Option) *Cache {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	c := &Cache{
		options:  options,
		perShard: (options.MaxEntries + options.Shards - 1) / options.Shards,
		shards:   make([]*cacheShard, options.Shards),
	}
	if c.perShard < 1 {
		c.perShard = 1
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			entries: make(map[string]*Handle),
			lru:     list.New(),
		}
	}
	return c
}

// shardFor picks the shard owning a path. FNV-1a keeps sibling paths
// spread out even though they share long prefixes.
func (c *Cache) shardFor(p string) *cacheShard {
	h := uint32(2166136261)
	for i := 0; i < len(p); i++ {
		h ^= uint32(p[i])
		h *= 16777619
	}
	return c.shards[h%uint32(len(c.shards))]
}

// Lookup returns the cached leaf for a concrete path if the handle is
// still valid under the given tree epoch.
//
// A handle resolved under an older epoch is removed and reported as a
// miss; the node it points into no longer belongs to the live tree.
// Handles past their TTL go the same way.
func (c *Cache) Lookup(p string, epoch uint64) (*tree.Node, bool) {
	sh := c.shardFor(p)

	sh.mu.Lock()
	h, ok := sh.entries[p]
	if !ok {
		sh.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		recordMiss()
		return nil, false
	}
	if h.epoch != epoch || c.isExpired(h) {
		sh.removeLocked(p, h)
		sh.mu.Unlock()
		atomic.AddInt64(&c.expirations, 1)
		recordExpiration()
		atomic.AddInt64(&c.misses, 1)
		recordMiss()
		return nil, false
	}
	h.lastAccessMilli.Store(time.Now().UnixMilli())
	sh.lru.MoveToFront(h.lruElement)
	node := h.Node
	sh.mu.Unlock()

	atomic.AddInt64(&c.hits, 1)
	recordHit()
	return node, true
}

// GetOrResolve returns the cached leaf or resolves and caches it.
//
// Concurrent callers for the same path share one resolution through
// singleflight. Resolution errors are returned but never cached: a
// failed lookup can become valid on the very next insert, so negative
// caching would serve stale misses.
func (c *Cache) GetOrResolve(p string, epoch uint64, resolve func() (*tree.Node, error)) (*tree.Node, error) {
	if n, ok := c.Lookup(p, epoch); ok {
		return n, nil
	}

	v, err, _ := c.flight.Do(p, func() (interface{}, error) {
		// Another flight participant may have filled the cache already.
		if n, ok := c.Lookup(p, epoch); ok {
			return n, nil
		}
		n, err := resolve()
		if err != nil {
			return nil, err
		}
		c.Store(p, n, epoch)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tree.Node), nil
}

// Store caches a resolution under the given epoch, replacing any previous
// handle for the path. Every SweepEvery-th store also walks the cache and
// drops handles past their TTL, amortizing expiry over writes.
func (c *Cache) Store(p string, n *tree.Node, epoch uint64) {
	now := time.Now().UnixMilli()
	sh := c.shardFor(p)

	sh.mu.Lock()
	if h, ok := sh.entries[p]; ok {
		h.Node = n
		h.epoch = epoch
		h.storedAtMilli = now
		h.lastAccessMilli.Store(now)
		if h.lruElement != nil {
			sh.lru.MoveToFront(h.lruElement)
		}
		sh.mu.Unlock()
		return
	}

	c.evictLocked(sh)

	h := &Handle{
		Path:          p,
		Node:          n,
		epoch:         epoch,
		storedAtMilli: now,
	}
	h.lastAccessMilli.Store(now)
	h.lruElement = sh.lru.PushFront(p)
	sh.entries[p] = h
	sh.mu.Unlock()

	stores := atomic.AddInt64(&c.stores, 1)
	recordStore()
	if c.options.SweepEvery > 0 && stores%int64(c.options.SweepEvery) == 0 {
		c.Cleanup()
	}
}

// Invalidate removes the handle for one concrete path. It is a no-op when
// the path is not cached.
func (c *Cache) Invalidate(p string) {
	sh := c.shardFor(p)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if h, ok := sh.entries[p]; ok {
		sh.removeLocked(p, h)
		atomic.AddInt64(&c.invalidations, 1)
	}
}

// InvalidatePrefix removes every handle at or below the given path and
// returns how many were dropped.
//
// Matching is component-aware: the prefix "/foo" covers "/foo" and
// "/foo/bar" but never "/foobar".
func (c *Cache) InvalidatePrefix(prefix string) int {
	sub := prefix
	if !strings.HasSuffix(sub, "/") {
		sub += "/"
	}

	removed := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for p, h := range sh.entries {
			if p == prefix || strings.HasPrefix(p, sub) {
				sh.removeLocked(p, h)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	atomic.AddInt64(&c.invalidations, int64(removed))
	return removed
}

// InvalidatePattern removes every handle a glob pattern could reach and
// returns how many were dropped.
//
// Working out which cached paths a pattern covers would mean matching
// every key on each call, so a glob conservatively drops the whole
// cache. A concrete pattern degrades to a plain Invalidate.
func (c *Cache) InvalidatePattern(pattern string) int {
	if !path.IsGlob(pattern) {
		sh := c.shardFor(pattern)
		sh.mu.Lock()
		defer sh.mu.Unlock()

		h, ok := sh.entries[pattern]
		if !ok {
			return 0
		}
		sh.removeLocked(pattern, h)
		atomic.AddInt64(&c.invalidations, 1)
		return 1
	}

	removed := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		removed += len(sh.entries)
		sh.entries = make(map[string]*Handle)
		sh.lru.Init()
		sh.mu.Unlock()
	}
	atomic.AddInt64(&c.invalidations, int64(removed))
	return removed
}

// Cleanup drops every handle past its TTL. The space facade drives this
// from a background sweeper; store-amortized sweeps cover caches without
// one.
func (c *Cache) Cleanup() {
	if c.options.TTL == 0 {
		return
	}
	for _, sh := range c.shards {
		sh.mu.Lock()
		for p, h := range sh.entries {
			if c.isExpired(h) {
				sh.removeLocked(p, h)
				atomic.AddInt64(&c.expirations, 1)
				recordExpiration()
			}
		}
		sh.mu.Unlock()
	}
}

// Clear drops every handle.
func (c *Cache) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*Handle)
		sh.lru.Init()
		sh.mu.Unlock()
	}
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:       c.Len(),
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Evictions:     atomic.LoadInt64(&c.evictions),
		Expirations:   atomic.LoadInt64(&c.expirations),
		Stores:        atomic.LoadInt64(&c.stores),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		MaxEntries:    c.options.MaxEntries,
		Shards:        len(c.shards),
		TTL:           c.options.TTL,
	}
}

// isExpired checks if a handle has exceeded its TTL.
func (c *Cache) isExpired(h *Handle) bool {
	if c.options.TTL == 0 {
		return false
	}
	age := time.Since(time.UnixMilli(h.storedAtMilli))
	return age > c.options.TTL
}

// evictLocked evicts least-recently-used handles until the shard is
// under its share of the capacity. Handles hold no resources beyond the
// map slot, so eviction is unconditional, oldest first.
//
// Assumptions:
//
//	Caller holds sh.mu.
func (c *Cache) evictLocked(sh *cacheShard) {
	for len(sh.entries) >= c.perShard {
		back := sh.lru.Back()
		if back == nil {
			return
		}
		p := back.Value.(string)
		if h, ok := sh.entries[p]; ok {
			sh.removeLocked(p, h)
		} else {
			sh.lru.Remove(back)
		}
		atomic.AddInt64(&c.evictions, 1)
		recordEviction()
	}
}

// removeLocked removes a handle (caller holds sh.mu).
func (sh *cacheShard) removeLocked(p string, h *Handle) {
	if h.lruElement != nil {
		sh.lru.Remove(h.lruElement)
	}
	delete(sh.entries, p)
}
