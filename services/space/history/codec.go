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
	"encoding/json"
	"fmt"
	"sort"
)

// codedValue is the wire form of one queued value inside a snapshot
// payload. Type preserves the concrete Go type for primitives so a
// restore hands back what was stored; values outside the tagged set
// decode to generic JSON shapes.
type codedValue struct {
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value"`
}

// encodeValues marshals one queue's values into a payload blob. Values
// that JSON cannot represent fail the whole encode; the caller records
// the path as unsupported.
func encodeValues(values []any) ([]byte, error) {
	coded := make([]codedValue, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		coded = append(coded, codedValue{Type: typeTag(v), Value: raw})
	}
	return json.Marshal(coded)
}

// decodeValues unpacks a payload blob back into queue values.
func decodeValues(payload []byte) ([]any, error) {
	var coded []codedValue
	if err := json.Unmarshal(payload, &coded); err != nil {
		return nil, err
	}
	values := make([]any, 0, len(coded))
	for _, cv := range coded {
		v, err := decodeValue(cv)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func typeTag(v any) string {
	switch v.(type) {
	case int:
		return "int"
	case int64:
		return "int64"
	case float64:
		return "float64"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return ""
	}
}

func decodeValue(cv codedValue) (any, error) {
	switch cv.Type {
	case "int":
		var v int
		err := json.Unmarshal(cv.Value, &v)
		return v, err
	case "int64":
		var v int64
		err := json.Unmarshal(cv.Value, &v)
		return v, err
	case "float64":
		var v float64
		err := json.Unmarshal(cv.Value, &v)
		return v, err
	case "string":
		var v string
		err := json.Unmarshal(cv.Value, &v)
		return v, err
	case "bool":
		var v bool
		err := json.Unmarshal(cv.Value, &v)
		return v, err
	default:
		var v any
		err := json.Unmarshal(cv.Value, &v)
		return v, err
	}
}

// snapshotDoc is the persisted form of a snapshot: the payload-holding
// nodes in depth-first order. Structure off those nodes is implied by
// the components and rebuilt on decode.
type snapshotDoc struct {
	Nodes []snapshotNode `json:"nodes"`
}

type snapshotNode struct {
	Components []string        `json:"components,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// encodeSnapshot flattens a snapshot into its document form.
func encodeSnapshot(s Snapshot) ([]byte, error) {
	var doc snapshotDoc
	var walk func(n *Node, components []string)
	walk = func(n *Node, components []string) {
		if n.Payload != nil {
			rel := make([]string, len(components))
			copy(rel, components)
			doc.Nodes = append(doc.Nodes, snapshotNode{Components: rel, Payload: json.RawMessage(n.Payload)})
		}
		for _, name := range sortedChildren(n) {
			next := make([]string, len(components)+1)
			copy(next, components)
			next[len(components)] = name
			walk(n.Children[name], next)
		}
	}
	if s.Root != nil {
		walk(s.Root, nil)
	}
	return json.Marshal(doc)
}

// decodeSnapshot folds a document back into a snapshot through the
// engine. Decoded snapshots share no structure with anything; each one
// stands alone.
func decodeSnapshot(engine *Engine, blob []byte) (Snapshot, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot document: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return engine.EmptySnapshot(), nil
	}
	mutations := make([]Mutation, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		mutations = append(mutations, Mutation{Components: n.Components, Payload: []byte(n.Payload)})
	}
	return engine.Apply(engine.EmptySnapshot(), mutations...), nil
}

func sortedChildren(n *Node) []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
