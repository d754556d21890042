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
	"bytes"
	"strings"
)

// NodeView is the JSON rendering of one snapshot node for inspection
// endpoints. Values holds the decoded queue contents in order; it is
// omitted for pure structure nodes.
type NodeView struct {
	Values   []any                `json:"values,omitempty"`
	Children map[string]*NodeView `json:"children,omitempty"`
}

// SnapshotReport describes the live state of a tracked root.
type SnapshotReport struct {
	Root       string      `json:"root"`
	Generation uint64      `json:"generation"`
	Memory     MemoryStats `json:"memory"`
	Tree       *NodeView   `json:"tree,omitempty"`
}

// DeltaReport compares the newest undo snapshot of a root against its
// live state. The updated snapshot is derived from the baseline, so the
// delta reflects genuine structural sharing: subtrees untouched since
// the last capture count as reused.
type DeltaReport struct {
	Root               string      `json:"root"`
	BaselineGeneration uint64      `json:"baseline_generation"`
	UpdatedGeneration  uint64      `json:"updated_generation"`
	Baseline           MemoryStats `json:"baseline"`
	Updated            MemoryStats `json:"updated"`
	Delta              DeltaStats  `json:"delta"`
}

// RenderSnapshot converts a snapshot into its inspection view.
//
// Description:
//
//	Walks the snapshot and decodes every payload back into plain Go
//	values so the result marshals to readable JSON. The empty snapshot
//	renders as nil.
//
// Inputs:
//   - s: Snapshot to render.
//
// Outputs:
//   - *NodeView: root of the rendered tree, nil for the empty snapshot.
//   - error: non-nil if a payload fails to decode.
//
// Thread Safety: safe for concurrent use; snapshots are immutable.
func RenderSnapshot(s Snapshot) (*NodeView, error) {
	if !s.Valid() {
		return nil, nil
	}
	return renderNode(s.Root)
}

func renderNode(n *Node) (*NodeView, error) {
	view := &NodeView{}
	if n.Payload != nil {
		values, err := decodeValues(n.Payload)
		if err != nil {
			return nil, err
		}
		view.Values = values
	}
	if len(n.Children) > 0 {
		view.Children = make(map[string]*NodeView, len(n.Children))
		for name, child := range n.Children {
			rendered, err := renderNode(child)
			if err != nil {
				return nil, err
			}
			view.Children[name] = rendered
		}
	}
	return view, nil
}

// SnapshotReport captures the root's live subtree and renders it.
//
// Description:
//
//	Produces a point-in-time view of the subtree under the root along
//	with its memory statistics. The capture advances the root's
//	generation counter like any other snapshot.
//
// Inputs:
//   - root: a tracked root path.
//
// Outputs:
//   - SnapshotReport: rendered tree plus statistics.
//   - error: ErrHistoryDisabled if the root is not tracked, or an
//     ErrUnsupportedPayload wrap if the subtree cannot be captured.
//
// Thread Safety: safe for concurrent use.
func (h *History) SnapshotReport(root string) (SnapshotReport, error) {
	state, err := h.stateFor(root)
	if err != nil {
		return SnapshotReport{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	snap, err := h.capture(state)
	if err != nil {
		return SnapshotReport{}, err
	}
	view, err := RenderSnapshot(snap)
	if err != nil {
		return SnapshotReport{}, err
	}
	return SnapshotReport{
		Root:       state.root,
		Generation: snap.Generation,
		Memory:     Analyze(snap),
		Tree:       view,
	}, nil
}

// DeltaReport derives the live state from the newest undo snapshot and
// measures what changed.
//
// Description:
//
//	Takes the newest undo entry as the baseline (the empty snapshot if
//	the undo stack is empty), then applies only the payloads that differ
//	from it: new and changed paths are written, paths that disappeared
//	are cleared. Subtrees untouched since the baseline stay shared, so
//	the delta statistics report how much of the subtree actually moved.
//
// Inputs:
//   - root: a tracked root path.
//
// Outputs:
//   - DeltaReport: per-snapshot memory statistics and the node-level
//     delta between them.
//   - error: ErrHistoryDisabled if the root is not tracked, or an
//     ErrUnsupportedPayload wrap if the live subtree cannot be encoded.
//
// Thread Safety: safe for concurrent use.
func (h *History) DeltaReport(root string) (DeltaReport, error) {
	state, err := h.stateFor(root)
	if err != nil {
		return DeltaReport{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	baseline := state.engine.EmptySnapshot()
	if n := len(state.undo); n > 0 {
		baseline, err = h.entrySnapshot(state, state.undo[n-1])
		if err != nil {
			return DeltaReport{}, err
		}
	}

	live, err := h.listingMutations(state)
	if err != nil {
		return DeltaReport{}, err
	}

	changes := diffMutations(baseline, live)
	updated := baseline
	if len(changes) > 0 {
		updated = state.engine.Apply(baseline, changes...)
	}

	return DeltaReport{
		Root:               state.root,
		BaselineGeneration: baseline.Generation,
		UpdatedGeneration:  updated.Generation,
		Baseline:           Analyze(baseline),
		Updated:            Analyze(updated),
		Delta:              AnalyzeDelta(baseline, updated),
	}, nil
}

// diffMutations reduces a full live listing to the mutations needed to
// bring base up to date: payloads that are new or changed, plus clears
// for payload nodes that vanished from the live state.
func diffMutations(base Snapshot, live []Mutation) []Mutation {
	seen := make(map[string]struct{}, len(live))
	var changes []Mutation
	for _, m := range live {
		seen[strings.Join(m.Components, "/")] = struct{}{}
		existing := NodeAt(base, m.Components)
		if existing == nil || !bytes.Equal(existing.Payload, m.Payload) {
			changes = append(changes, m)
		}
	}
	collectRemovals(base.Root, nil, seen, &changes)
	return changes
}

func collectRemovals(n *Node, components []string, seen map[string]struct{}, out *[]Mutation) {
	if n == nil {
		return
	}
	if n.Payload != nil {
		if _, ok := seen[strings.Join(components, "/")]; !ok {
			cleared := make([]string, len(components))
			copy(cleared, components)
			*out = append(*out, Mutation{Components: cleared})
		}
	}
	for name, child := range n.Children {
		next := make([]string, len(components)+1)
		copy(next, components)
		next[len(components)] = name
		collectRemovals(child, next, seen, out)
	}
}
