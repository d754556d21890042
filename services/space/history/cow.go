// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"sync/atomic"

	"github.com/AleutianAI/pathspace/services/space/path"
)

// Node is one immutable node of a snapshot: an opaque payload blob plus
// named children. Nodes are never modified after publication; deriving a
// new snapshot clones the nodes along the mutated path and shares every
// subtree off that path by reference. A nil payload means the node is
// pure structure.
type Node struct {
	Payload  []byte
	Children map[string]*Node
}

// Snapshot is an immutable subtree version stamped with a generation.
// The zero value is the empty snapshot: no root, generation zero.
type Snapshot struct {
	Root       *Node
	Generation uint64
}

// Valid reports whether the snapshot holds any structure.
func (s Snapshot) Valid() bool { return s.Root != nil }

// Mutation addresses one node by its path components and replaces its
// payload. A nil payload clears the payload while keeping the node in
// the structure.
type Mutation struct {
	Components []string
	Payload    []byte
}

// Engine derives copy-on-write snapshots. Every snapshot derived through
// one engine shares its generation counter, which advances once per
// Apply call.
//
// Thread Safety: Safe for concurrent use; concurrent Apply calls against
// the same base each produce an independently numbered snapshot.
type Engine struct {
	generation atomic.Uint64
}

// NewEngine returns an engine with the generation counter at zero.
func NewEngine() *Engine {
	return &Engine{}
}

// EmptySnapshot returns the canonical empty snapshot.
func (e *Engine) EmptySnapshot() Snapshot {
	return Snapshot{}
}

// Apply derives a new snapshot with the mutations applied in order.
//
// Description:
//
//	Each mutation clones the nodes along its path, creating fresh empty
//	nodes where the base has none, and replaces the payload at the
//	tail. Everything off the mutated paths is shared with the base by
//	reference. The base is never modified.
func (e *Engine) Apply(base Snapshot, mutations ...Mutation) Snapshot {
	root := base.Root
	for _, m := range mutations {
		root = applyAt(root, m.Components, m.Payload)
	}
	return Snapshot{Root: root, Generation: e.generation.Add(1)}
}

func applyAt(n *Node, components []string, payload []byte) *Node {
	clone := &Node{}
	if n != nil {
		clone.Payload = n.Payload
		if len(n.Children) > 0 {
			clone.Children = make(map[string]*Node, len(n.Children))
			for name, c := range n.Children {
				clone.Children[name] = c
			}
		}
	}
	if len(components) == 0 {
		clone.Payload = payload
		return clone
	}
	if clone.Children == nil {
		clone.Children = make(map[string]*Node, 1)
	}
	clone.Children[components[0]] = applyAt(clone.Children[components[0]], components[1:], payload)
	return clone
}

// MemoryStats summarizes one snapshot's reachable node set.
type MemoryStats struct {
	UniqueNodes  int   `json:"unique_nodes"`
	PayloadBytes int64 `json:"payload_bytes"`
}

// Analyze totals the node count and payload bytes of the snapshot's
// reachable set in one traversal, guarding against shared-node revisits
// with a visited set.
func Analyze(s Snapshot) MemoryStats {
	var stats MemoryStats
	seen := make(map[*Node]struct{})
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		stats.UniqueNodes++
		stats.PayloadBytes += int64(len(n.Payload))
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(s.Root)
	return stats
}

// DeltaStats classifies an updated snapshot's nodes against a baseline by
// reference identity. Removed counts baseline nodes no longer reachable
// from the updated snapshot.
type DeltaStats struct {
	NewNodes           int   `json:"new_nodes"`
	ReusedNodes        int   `json:"reused_nodes"`
	RemovedNodes       int   `json:"removed_nodes"`
	NewPayloadBytes    int64 `json:"new_payload_bytes"`
	ReusedPayloadBytes int64 `json:"reused_payload_bytes"`
}

// AnalyzeDelta compares two snapshots, typically adjacent history
// entries, and reports how much structure the update shared.
func AnalyzeDelta(baseline, updated Snapshot) DeltaStats {
	base := make(map[*Node]struct{})
	collectNodes(baseline.Root, base)

	var stats DeltaStats
	reached := make(map[*Node]struct{})
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if _, ok := reached[n]; ok {
			return
		}
		reached[n] = struct{}{}
		if _, ok := base[n]; ok {
			stats.ReusedNodes++
			stats.ReusedPayloadBytes += int64(len(n.Payload))
		} else {
			stats.NewNodes++
			stats.NewPayloadBytes += int64(len(n.Payload))
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(updated.Root)

	for n := range base {
		if _, ok := reached[n]; !ok {
			stats.RemovedNodes++
		}
	}
	return stats
}

func collectNodes(n *Node, into map[*Node]struct{}) {
	if n == nil {
		return
	}
	if _, ok := into[n]; ok {
		return
	}
	into[n] = struct{}{}
	for _, c := range n.Children {
		collectNodes(c, into)
	}
}

// ParsePath splits a concrete path into mutation components. Mutations
// only ever target concrete paths, so glob metacharacters are rejected.
// The bare root "/" parses to zero components.
func ParsePath(p string) ([]string, error) {
	if p == "/" {
		return []string{}, nil
	}
	if err := path.ValidateConcrete(p); err != nil {
		return nil, err
	}
	return path.Components(p), nil
}

// NodeAt returns the node addressed by the components, or nil when the
// path leaves the snapshot.
func NodeAt(s Snapshot, components []string) *Node {
	n := s.Root
	for _, comp := range components {
		if n == nil {
			return nil
		}
		n = n.Children[comp]
	}
	return n
}
