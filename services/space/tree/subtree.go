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
	"github.com/AleutianAI/pathspace/services/space/path"
)

// SubtreeValue records the queued values at one data-holding node below a
// walk root. Components is the node's path relative to the walk root; the
// root itself appears with zero components. HasTask marks queues that
// still hold unexecuted task slots, which cannot be captured as plain
// values.
type SubtreeValue struct {
	Components []string
	Values     []any
	HasTask    bool
}

// CollectSubtree gathers the data-holding nodes at and below the given
// concrete path, depth-first with children visited in name order.
//
// Description:
//
//	Each listed node carries an ordered copy of its queued values.
//	A path with no node yields an empty listing, not an error, so an
//	empty and a missing subtree capture identically.
//
// Thread Safety: Safe for concurrent use. The listing is a point-in-time
// view; concurrent mutation of the subtree is not excluded.
func (t *Tree) CollectSubtree(p string) ([]SubtreeValue, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	n := t.root
	for it := path.NewIterator(p); !it.IsAtEnd(); it.Next() {
		n = n.child(it.Component())
		if n == nil {
			return nil, nil
		}
	}

	var out []SubtreeValue
	collectAt(n, nil, &out)
	return out, nil
}

func collectAt(n *Node, components []string, out *[]SubtreeValue) {
	n.mu.RLock()
	values, hasTask := n.queue.Snapshot()
	n.mu.RUnlock()

	if len(values) > 0 || hasTask {
		rel := make([]string, len(components))
		copy(rel, components)
		*out = append(*out, SubtreeValue{Components: rel, Values: values, HasTask: hasTask})
	}

	for _, mc := range n.matchingChildren("*") {
		next := make([]string, len(components)+1)
		copy(next, components)
		next[len(components)] = mc.name
		collectAt(mc.node, next, out)
	}
}

// RestoreSubtree rewrites the subtree at the given concrete path to hold
// exactly the supplied listing.
//
// Description:
//
//	Listed nodes are created or overwritten in place; live children
//	absent from the listing are removed, cancelling any tasks held in
//	discarded slots. Missing ancestors of the root are created. An
//	empty listing clears the subtree. Waiters on paths that received
//	values are notified.
//
// Thread Safety: Safe for concurrent use, but the rewrite is not atomic
// with respect to concurrent inserts into the same subtree; callers that
// need exclusion serialize at a higher level.
func (t *Tree) RestoreSubtree(p string, values []SubtreeValue) error {
	if t.closed.Load() {
		return ErrClosed
	}

	n := t.root
	for it := path.NewIterator(p); !it.IsAtEnd(); it.Next() {
		n = n.getOrCreateChild(it.Component())
	}

	var notify []string
	t.applyPlan(n, buildRestorePlan(values), p, &notify)
	for _, target := range notify {
		t.waits.Notify(target)
	}
	return nil
}

// restorePlan is the trie form of a SubtreeValue listing. hasValues
// distinguishes a node listed with values from pure implied structure,
// whose queue is cleared on restore.
type restorePlan struct {
	values    []any
	hasValues bool
	children  map[string]*restorePlan
}

func buildRestorePlan(values []SubtreeValue) *restorePlan {
	root := &restorePlan{}
	for _, sv := range values {
		n := root
		for _, comp := range sv.Components {
			if n.children == nil {
				n.children = make(map[string]*restorePlan)
			}
			c, ok := n.children[comp]
			if !ok {
				c = &restorePlan{}
				n.children[comp] = c
			}
			n = c
		}
		n.values = sv.Values
		n.hasValues = true
	}
	return root
}

func (t *Tree) applyPlan(n *Node, plan *restorePlan, full string, notify *[]string) {
	n.mu.Lock()
	if plan.hasValues {
		n.queue.Replace(plan.values)
		if len(plan.values) > 0 {
			*notify = append(*notify, full)
		}
	} else {
		n.queue.Clear()
	}
	var dropped []*Node
	for name, c := range n.children {
		if _, keep := plan.children[name]; !keep {
			dropped = append(dropped, c)
			delete(n.children, name)
		}
	}
	n.mu.Unlock()

	for _, c := range dropped {
		c.clear()
	}
	for name, childPlan := range plan.children {
		t.applyPlan(n.getOrCreateChild(name), childPlan, path.Join(full, name), notify)
	}
}
