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
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Store layout: one blob per stack entry plus a manifest per root.
//
//	history:<root>:undo:<seq>  encoded snapshot document
//	history:<root>:redo:<seq>  encoded snapshot document
//	history:<root>:manifest    stack layout and telemetry
//
// Sequences are zero-padded so key order matches numeric order. Keys are
// only ever fetched exactly, never parsed back.

func manifestKey(root string) []byte {
	return []byte(fmt.Sprintf("history:%s:manifest", root))
}

func entryKey(root string, kind stackKind, seq uint64) []byte {
	return []byte(fmt.Sprintf("history:%s:%s:%016d", root, kind, seq))
}

func (h *History) saveBlob(state *rootState, e *stackEntry, blob []byte) error {
	err := h.store.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(state.root, e.stack, e.seq), blob)
	})
	if err != nil {
		return err
	}
	e.persisted = true
	state.diskBytes += e.bytes
	return nil
}

func (h *History) loadBlob(state *rootState, e *stackEntry) ([]byte, error) {
	var blob []byte
	err := h.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(state.root, e.stack, e.seq))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	return blob, err
}

func (h *History) deleteBlob(state *rootState, e *stackEntry) error {
	return h.store.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(state.root, e.stack, e.seq))
	})
}

// manifestDoc is the persisted stack layout for one root. Only persisted
// entries appear; RAM-only entries cannot be restored and are not
// listed.
type manifestDoc struct {
	NextSeq     uint64           `json:"next_seq"`
	Undo        []manifestEntry  `json:"undo,omitempty"`
	Redo        []manifestEntry  `json:"redo,omitempty"`
	Trim        TrimTelemetry    `json:"trim"`
	Unsupported UnsupportedStats `json:"unsupported"`
}

type manifestEntry struct {
	Seq   uint64 `json:"seq"`
	Bytes int64  `json:"bytes"`
}

// writeManifestLocked records the current stack layout so a later Enable
// with Restore can rebuild it. No-op when persistence is off; failures
// degrade to a warning since the in-RAM state stays authoritative.
func (h *History) writeManifestLocked(state *rootState) {
	if !h.persistEnabled(state) {
		return
	}
	doc := manifestDoc{
		NextSeq:     state.seq,
		Trim:        state.trim,
		Unsupported: state.unsupported,
	}
	for _, e := range state.undo {
		if e.persisted {
			doc.Undo = append(doc.Undo, manifestEntry{Seq: e.seq, Bytes: e.bytes})
		}
	}
	for _, e := range state.redo {
		if e.persisted {
			doc.Redo = append(doc.Redo, manifestEntry{Seq: e.seq, Bytes: e.bytes})
		}
	}

	blob, err := json.Marshal(doc)
	if err != nil {
		h.logger.Warn("history manifest encode failed",
			slog.String("root", state.root),
			slog.String("error", err.Error()),
		)
		return
	}
	err = h.store.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(state.root), blob)
	})
	if err != nil {
		h.logger.Warn("history manifest write failed",
			slog.String("root", state.root),
			slog.String("error", err.Error()),
		)
	}
}

// loadManifest rebuilds the stacks cold from the store; entries decode
// lazily when first needed. A missing manifest means a fresh root.
// Caller owns the state exclusively, it is not yet published.
func (h *History) loadManifest(state *rootState) error {
	var blob []byte
	err := h.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(state.root))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return err
	}
	if blob == nil {
		return nil
	}

	var doc manifestDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	state.seq = doc.NextSeq
	state.trim = doc.Trim
	state.unsupported = doc.Unsupported
	state.undo = rebuildStack(doc.Undo, stackUndo)
	state.redo = rebuildStack(doc.Redo, stackRedo)
	state.diskBytes = stackBytes(state.undo) + stackBytes(state.redo)
	return nil
}

func rebuildStack(entries []manifestEntry, kind stackKind) []*stackEntry {
	out := make([]*stackEntry, 0, len(entries))
	for _, me := range entries {
		out = append(out, &stackEntry{seq: me.Seq, stack: kind, bytes: me.Bytes, persisted: true})
	}
	return out
}
