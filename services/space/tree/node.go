// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"sort"
	"sync"

	"github.com/AleutianAI/pathspace/services/space/path"
)

// Node is one leaf in the space: a named child map plus an entry queue.
// A node may hold both children and data; a data-holding node with no
// children blocks deeper structure under it.
//
// Thread Safety:
//
//	The node's lock guards both the child map and the queue. Walks take
//	parent locks before child locks, always descending, so lock ordering
//	is acyclic.
type Node struct {
	mu       sync.RWMutex
	children map[string]*Node
	queue    Queue
}

func newNode() *Node {
	return &Node{children: make(map[string]*Node)}
}

// child returns the named child or nil.
func (n *Node) child(name string) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.children[name]
}

// getOrCreateChild returns the named child, creating it if absent.
func (n *Node) getOrCreateChild(name string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.children[name]; ok {
		return c
	}
	c := newNode()
	n.children[name] = c
	return c
}

// matchingChildren returns the children whose names match the pattern, in
// lexicographic name order. The copy keeps iteration safe after the lock
// is released.
func (n *Node) matchingChildren(pattern string) []namedChild {
	n.mu.RLock()
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		if path.Match(name, pattern) {
			names = append(names, name)
		}
	}
	n.mu.RUnlock()

	sort.Strings(names)
	out := make([]namedChild, 0, len(names))
	for _, name := range names {
		if c := n.child(name); c != nil {
			out = append(out, namedChild{name: name, node: c})
		}
	}
	return out
}

type namedChild struct {
	name string
	node *Node
}

// hasData reports whether the node's queue is non-empty.
func (n *Node) hasData() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.queue.Len() > 0
}

// hasChildren reports whether the node has any children.
func (n *Node) hasChildren() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children) > 0
}

// clear drops the node's children and queue. Deferred tasks in the
// discarded queues are cancelled.
func (n *Node) clear() {
	n.mu.Lock()
	children := n.children
	n.children = make(map[string]*Node)
	n.queue.Clear()
	n.mu.Unlock()

	for _, c := range children {
		c.clear()
	}
}
