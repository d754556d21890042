// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package space

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType labels one space mutation.
type EventType string

// Event types published to the feed.
const (
	EventInsert EventType = "insert"
	EventTake   EventType = "take"
	EventClear  EventType = "clear"
	EventUndo   EventType = "undo"
	EventRedo   EventType = "redo"
)

// Event is one mutation visible on the live feed.
type Event struct {
	Type        EventType `json:"type"`
	Path        string    `json:"path"`
	TimestampMS int64     `json:"timestamp_ms"`

	// Values and Tasks count what an insert landed; zero otherwise.
	Values int `json:"values,omitempty"`
	Tasks  int `json:"tasks,omitempty"`
}

// eventBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses events rather than stalling publishers.
const eventBuffer = 64

// EventHub fans mutation events out to websocket subscribers.
//
// Thread Safety:
//
//	Safe for concurrent use. Publish never blocks; slow subscribers
//	drop events.
type EventHub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger,
		subs:   make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel closes on Unsubscribe or hub Close.
func (h *EventHub) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, eventBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber that has room.
func (h *EventHub) Publish(ev Event) {
	if ev.TimestampMS == 0 {
		ev.TimestampMS = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats reports feed activity counters.
func (h *EventHub) Stats() (published, dropped int64) {
	return h.published.Load(), h.dropped.Load()
}

// Close shuts the hub down, closing every subscriber channel.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	if dropped := h.dropped.Load(); dropped > 0 {
		h.logger.Info("event hub closed", slog.Int64("dropped_events", dropped))
	}
}
