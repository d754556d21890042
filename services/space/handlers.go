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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/pathspace/services/space/history"
	"github.com/AleutianAI/pathspace/services/space/telemetry"
	"github.com/AleutianAI/pathspace/services/space/tree"
)

// ServiceVersion is the inspector API version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// InsertRequest is the body for POST /space/insert. Value carries any
// JSON payload; objects and arrays land in the store as decoded maps
// and slices.
type InsertRequest struct {
	Path  string `json:"path" binding:"required"`
	Value any    `json:"value"`
}

// InsertResponse reports the insert outcome, including per-target
// failures for glob fan-outs.
type InsertResponse struct {
	ValuesInserted int      `json:"values_inserted"`
	Paths          []string `json:"paths,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// ValueRequest is the body for POST /space/read and /space/take. A
// positive timeout parks the request server-side until the value (and
// any pending task execution) is available or the deadline passes.
type ValueRequest struct {
	Path      string `json:"path" binding:"required"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// ValueResponse carries one extracted value.
type ValueResponse struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PathListResponse is the body for GET /space/paths.
type PathListResponse struct {
	Paths []string `json:"paths"`
	Count int      `json:"count"`
}

// TypesResponse is the body for GET /space/types.
type TypesResponse struct {
	Path  string           `json:"path"`
	Types []tree.TypeCount `json:"types"`
}

// HistoryOptionsRequest mirrors history.Options for POST /history/enable.
type HistoryOptionsRequest struct {
	MaxEntries       int   `json:"max_entries"`
	MaxBytesRetained int64 `json:"max_bytes_retained"`
	RAMCacheEntries  int   `json:"ram_cache_entries"`
	MaxDiskBytes     int64 `json:"max_disk_bytes"`
	Persist          bool  `json:"persist"`
	Restore          bool  `json:"restore"`
}

// StepsRequest is the optional body for POST /history/undo and /history/redo.
type StepsRequest struct {
	Steps int `json:"steps"`
}

// HistoryStatsResponse aggregates per-root history stats.
type HistoryStatsResponse struct {
	Roots []history.Stats `json:"roots"`
}

// Handlers contains the HTTP handlers for the store inspector.
type Handlers struct {
	space *Space
}

// NewHandlers creates handlers over the given space.
func NewHandlers(s *Space) *Handlers {
	return &Handlers{space: s}
}

// statusForError maps store errors onto HTTP statuses and stable codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest, "MALFORMED_INPUT"
	case errors.Is(err, history.ErrNoStore):
		return http.StatusBadRequest, "NO_STORE"
	case errors.Is(err, ErrCapability):
		return http.StatusForbidden, "CAPABILITY_REFUSED"
	case errors.Is(err, history.ErrHistoryDisabled):
		return http.StatusNotFound, "HISTORY_DISABLED"
	case errors.Is(err, ErrNoSuchPath):
		return http.StatusNotFound, "NO_SUCH_PATH"
	case errors.Is(err, ErrNoObjectFound):
		return http.StatusNotFound, "NO_OBJECT_FOUND"
	case errors.Is(err, ErrTypeMismatch):
		return http.StatusConflict, "TYPE_MISMATCH"
	case errors.Is(err, history.ErrNothingToUndo):
		return http.StatusConflict, "NOTHING_TO_UNDO"
	case errors.Is(err, history.ErrNothingToRedo):
		return http.StatusConflict, "NOTHING_TO_REDO"
	case errors.Is(err, history.ErrRootOverlap):
		return http.StatusConflict, "ROOT_OVERLAP"
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "TIMEOUT"
	case errors.Is(err, history.ErrUnsupportedPayload):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_PAYLOAD"
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", code)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// HandleStats handles GET /space/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.space.Stats())
}

// HandlePaths handles GET /space/paths.
//
// Description:
//
//	Lists every concrete path currently holding data. The optional
//	"glob" query parameter filters the listing.
//
// Response:
//
//	200 OK: PathListResponse
//	400 Bad Request: Malformed glob
func (h *Handlers) HandlePaths(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandlePaths")

	paths, err := h.space.ListPaths(c.Query("glob"))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	c.JSON(http.StatusOK, PathListResponse{Paths: paths, Count: len(paths)})
}

// HandleTypes handles GET /space/types.
//
// Description:
//
//	Reports the queued type runs at the concrete path named by the
//	"path" query parameter, front first.
//
// Response:
//
//	200 OK: TypesResponse
//	400 Bad Request: Missing or invalid path
//	404 Not Found: No such path
func (h *Handlers) HandleTypes(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleTypes")

	p := c.Query("path")
	if p == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Missing path query parameter",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	types, err := h.space.PeekTypes(p)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, TypesResponse{Path: p, Types: types})
}

// HandleInsert handles POST /space/insert.
//
// Description:
//
//	Inserts a JSON value at the target path. Glob paths fan out to
//	every matching leaf and report partial failures alongside the
//	successes. Inserts below an enabled history root's _history
//	subtree are control commands (undo, redo, garbage_collect).
//
// Request Body:
//
//	InsertRequest
//
// Response:
//
//	200 OK: InsertResponse
//	400 Bad Request: Invalid path or payload
//	403 Forbidden: Capability refused
func (h *Handlers) HandleInsert(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleInsert")

	var req InsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	res := h.space.Insert(req.Path, req.Value)
	if len(res.Errors) > 0 && res.ValuesInserted == 0 {
		respondError(c, logger, res.Errors[0])
		return
	}

	resp := InsertResponse{
		ValuesInserted: res.ValuesInserted,
		Paths:          res.Paths,
	}
	for _, e := range res.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	logger.Info("Inserted", "path", req.Path, "values", res.ValuesInserted)
	c.JSON(http.StatusOK, resp)
}

// HandleRead handles POST /space/read.
//
// Description:
//
//	Returns the front value at the path without removing it. A
//	positive timeout_ms blocks until the value exists and any pending
//	task execution completes.
//
// Request Body:
//
//	ValueRequest
//
// Response:
//
//	200 OK: ValueResponse
//	404 Not Found: No path or no value
//	408 Request Timeout: Deadline passed while blocked
func (h *Handlers) HandleRead(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleRead")

	var req ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	v, err := h.space.ReadAny(c.Request.Context(), req.Path, blockFor(req.TimeoutMS)...)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Path: req.Path, Value: v})
}

// HandleTake handles POST /space/take.
//
// Description:
//
//	Returns and removes the front value at the path. Accepts the same
//	blocking semantics as HandleRead.
//
// Request Body:
//
//	ValueRequest
//
// Response:
//
//	200 OK: ValueResponse
//	404 Not Found: No path or no value
//	408 Request Timeout: Deadline passed while blocked
func (h *Handlers) HandleTake(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleTake")

	var req ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	v, err := h.space.TakeAny(c.Request.Context(), req.Path, takeBlockFor(req.TimeoutMS)...)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Took value", "path", req.Path)
	c.JSON(http.StatusOK, ValueResponse{Path: req.Path, Value: v})
}

func blockFor(timeoutMS int64) []ReadOption {
	if timeoutMS <= 0 {
		return nil
	}
	return []ReadOption{WithBlock(BlockOptions{
		Behavior: WaitForExecutionAndExistence,
		Timeout:  time.Duration(timeoutMS) * time.Millisecond,
	})}
}

func takeBlockFor(timeoutMS int64) []TakeOption {
	if timeoutMS <= 0 {
		return nil
	}
	return []TakeOption{WithBlock(BlockOptions{
		Behavior: WaitForExecutionAndExistence,
		Timeout:  time.Duration(timeoutMS) * time.Millisecond,
	})}
}

// HandleHistoryStats handles GET /history/stats.
//
// Description:
//
//	Collects the stats of every enabled root concurrently.
//
// Response:
//
//	200 OK: HistoryStatsResponse
func (h *Handlers) HandleHistoryStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleHistoryStats")

	roots := h.space.History().Roots()
	stats := make([]history.Stats, len(roots))
	var g errgroup.Group
	for i, root := range roots {
		g.Go(func() error {
			st, err := h.space.History().Stats(root)
			if err != nil {
				return err
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, HistoryStatsResponse{Roots: stats})
}

// HandleHistoryRootStats handles GET /history/root/*root.
func (h *Handlers) HandleHistoryRootStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleHistoryRootStats")

	st, err := h.space.History().Stats(rootParam(c))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleHistorySnapshot handles GET /history/snapshot/*root.
//
// Description:
//
//	Captures the root's live subtree and renders it as JSON alongside
//	structural-sharing statistics.
//
// Response:
//
//	200 OK: history.SnapshotReport
//	404 Not Found: History not enabled for the root
//	422 Unprocessable Entity: Subtree holds uncapturable state
func (h *Handlers) HandleHistorySnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleHistorySnapshot")

	report, err := h.space.History().SnapshotReport(rootParam(c))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleHistoryDelta handles GET /history/delta/*root.
//
// Description:
//
//	Compares the newest undo snapshot against the live state and
//	reports how many nodes the two trees share.
//
// Response:
//
//	200 OK: history.DeltaReport
//	404 Not Found: History not enabled for the root
//	409 Conflict: No baseline snapshot yet
func (h *Handlers) HandleHistoryDelta(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleHistoryDelta")

	report, err := h.space.History().DeltaReport(rootParam(c))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleHistoryEnable handles POST /history/enable/*root. The body is
// optional; absent fields mean defaults.
func (h *Handlers) HandleHistoryEnable(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleHistoryEnable")

	var req HistoryOptionsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	root := rootParam(c)
	err := h.space.EnableHistory(root, history.Options{
		MaxEntries:       req.MaxEntries,
		MaxBytesRetained: req.MaxBytesRetained,
		RAMCacheEntries:  req.RAMCacheEntries,
		MaxDiskBytes:     req.MaxDiskBytes,
		Persist:          req.Persist,
		Restore:          req.Restore,
	})
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("History enabled", "root", root)
	c.JSON(http.StatusOK, gin.H{"root": root, "enabled": true})
}

// HandleHistoryDisable handles POST /history/disable/*root.
func (h *Handlers) HandleHistoryDisable(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleHistoryDisable")

	root := rootParam(c)
	if err := h.space.DisableHistory(root); err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("History disabled", "root", root)
	c.JSON(http.StatusOK, gin.H{"root": root, "enabled": false})
}

// HandleUndo handles POST /history/undo/*root. The optional body sets
// the step count; default one.
func (h *Handlers) HandleUndo(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleUndo")

	root := rootParam(c)
	steps := stepsBody(c, logger)
	if steps < 0 {
		return
	}
	if err := h.space.Undo(root, steps); err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Undo applied", "root", root, "steps", steps)
	c.JSON(http.StatusOK, gin.H{"root": root, "steps": steps})
}

// HandleRedo handles POST /history/redo/*root.
func (h *Handlers) HandleRedo(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleRedo")

	root := rootParam(c)
	steps := stepsBody(c, logger)
	if steps < 0 {
		return
	}
	if err := h.space.Redo(root, steps); err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Redo applied", "root", root, "steps", steps)
	c.JSON(http.StatusOK, gin.H{"root": root, "steps": steps})
}

// stepsBody parses the optional StepsRequest body. Returns -1 after
// writing the error response when the body is present but malformed.
func stepsBody(c *gin.Context, logger *slog.Logger) int {
	if c.Request.ContentLength <= 0 {
		return 1
	}
	var req StepsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return -1
	}
	if req.Steps <= 0 {
		return 1
	}
	return req.Steps
}

// HandleTrim handles POST /history/trim/*root.
func (h *Handlers) HandleTrim(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).With("request_id", requestID, "handler", "HandleTrim")

	st, err := h.space.History().Trim(rootParam(c))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleEvents handles GET /ws/events.
//
// Description:
//
//	Upgrades to a websocket and streams store mutation events
//	(inserts, takes, clears, undo/redo) as JSON frames until the
//	client disconnects or the space shuts down. The first frame
//	carries the subscription ID. Slow consumers lose events rather
//	than stalling writers.
func (h *Handlers) HandleEvents(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	id, events := h.space.Events().Subscribe()
	defer h.space.Events().Unsubscribe(id)
	slog.Info("Event feed client connected", "subscription_id", id)

	// Reader goroutine: surfaces client disconnect. Inbound frames are
	// ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := ws.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	greeting := map[string]string{"type": "subscribed", "subscription_id": id}
	if err := ws.WriteJSON(greeting); err != nil {
		slog.Warn("Failed to send websocket greeting", "error", err)
		return
	}

	for {
		select {
		case <-done:
			slog.Info("Event feed client disconnected", "subscription_id", id)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				slog.Warn("Failed to write event", "subscription_id", id, "error", err)
				return
			}
		}
	}
}

// rootParam returns the per-root wildcard parameter. Gin keeps the
// leading slash on catch-all params, which is exactly the path form the
// store expects.
func rootParam(c *gin.Context) string {
	return c.Param("root")
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
