// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"container/list"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/pathspace/services/space/tree"
)

// Default configuration values.
const (
	// DefaultMaxEntries is the default maximum number of cached handles.
	DefaultMaxEntries = 1024

	// DefaultTTL is the default lifetime of a cached handle.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepEvery is how many stores elapse between expiry sweeps.
	DefaultSweepEvery = 64

	// DefaultShards is the default number of lock shards.
	DefaultShards = 16
)

// Handle is one cached path resolution: a direct pointer to the leaf node
// plus the tree epoch it was resolved under.
//
// Description:
//
//	A handle is valid only while the tree's epoch equals the handle's.
//	Clear bumps the epoch, so every handle issued before a Clear turns
//	stale at once without the cache having to track individual nodes.
//
// Thread Safety:
//
//	Safe for concurrent reads. The owning shard's lock guards mutation.
type Handle struct {
	// Path is the concrete path this handle resolves.
	Path string

	// Node is the resolved leaf.
	Node *tree.Node

	// epoch is the tree generation the resolution was made under.
	epoch uint64

	// storedAtMilli is when the handle entered the cache.
	storedAtMilli int64

	// lastAccessMilli is when the handle was last served.
	lastAccessMilli atomic.Int64

	// lruElement is the position in the LRU list.
	lruElement *list.Element
}

// Epoch returns the tree generation the handle was resolved under.
func (h *Handle) Epoch() uint64 {
	return h.epoch
}

// Stats contains statistics about the cache.
type Stats struct {
	// Entries is the number of handles currently cached.
	Entries int `json:"entries"`

	// Hits is the number of lookups served from the cache.
	Hits int64 `json:"hits"`

	// Misses is the number of lookups that fell through.
	Misses int64 `json:"misses"`

	// Evictions is the number of handles dropped for capacity.
	Evictions int64 `json:"evictions"`

	// Expirations is the number of handles dropped for age or epoch.
	Expirations int64 `json:"expirations"`

	// Stores is the number of handles written.
	Stores int64 `json:"stores"`

	// Invalidations is the number of handles removed by Invalidate and
	// InvalidatePrefix.
	Invalidations int64 `json:"invalidations"`

	// MaxEntries is the configured capacity.
	MaxEntries int `json:"max_entries"`

	// Shards is the number of lock shards.
	Shards int `json:"shards"`

	// TTL is the configured handle lifetime.
	TTL time.Duration `json:"ttl"`
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Options configures Cache behavior.
type Options struct {
	// MaxEntries is the maximum number of cached handles. Capacity is
	// enforced per shard, so the effective ceiling rounds up to a
	// multiple of Shards.
	MaxEntries int

	// TTL is the handle lifetime; zero disables expiry.
	TTL time.Duration

	// SweepEvery amortizes expiry: every Nth store walks the cache and
	// drops handles past their TTL. Zero disables the sweep.
	SweepEvery int

	// Shards is the number of independently locked map slices. One
	// shard serializes every operation; more shards let concurrent
	// lookups and stores on different paths proceed in parallel.
	Shards int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxEntries: DefaultMaxEntries,
		TTL:        DefaultTTL,
		SweepEvery: DefaultSweepEvery,
		Shards:     DefaultShards,
	}
}

// Option is a functional option for configuring a Cache.
type Option func(*Options)

// WithMaxEntries sets the maximum number of cached handles.
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}

// WithTTL sets the handle lifetime.
func WithTTL(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.TTL = d
		}
	}
}

// WithSweepEvery sets the store interval between expiry sweeps.
func WithSweepEvery(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.SweepEvery = n
		}
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Shards = n
		}
	}
}
