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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pathspace/services/space/history"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Space) {
	t.Helper()
	s := newSpace(t)
	router := gin.New()
	v1 := router.Group("/api/v1")
	RegisterRoutes(v1, NewHandlers(s))
	return router, s
}

func doJSON(t *testing.T, router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandlers_Health(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ServiceVersion, body["version"])
}

func TestHandlers_InsertReadTake(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/space/insert",
		InsertRequest{Path: "/h/v", Value: 42})
	require.Equal(t, http.StatusOK, w.Code)
	ins := decodeBody[InsertResponse](t, w)
	assert.Equal(t, 1, ins.ValuesInserted)
	assert.Equal(t, []string{"/h/v"}, ins.Paths)

	w = doJSON(t, router, http.MethodPost, "/api/v1/space/read",
		ValueRequest{Path: "/h/v"})
	require.Equal(t, http.StatusOK, w.Code)
	read := decodeBody[ValueResponse](t, w)
	assert.Equal(t, float64(42), read.Value)

	w = doJSON(t, router, http.MethodPost, "/api/v1/space/take",
		ValueRequest{Path: "/h/v"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/space/take",
		ValueRequest{Path: "/h/v"})
	require.Equal(t, http.StatusNotFound, w.Code)
	errResp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "NO_OBJECT_FOUND", errResp.Code)
}

func TestHandlers_InsertRejectsBadRequests(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/space/insert",
		InsertRequest{Path: "bad", Value: 1})
	require.Equal(t, http.StatusBadRequest, w.Code)
	errResp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "INVALID_PATH", errResp.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/space/insert",
		map[string]any{"value": 1})
	require.Equal(t, http.StatusBadRequest, w.Code)
	errResp = decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "INVALID_REQUEST", errResp.Code)
}

func TestHandlers_PathsAndTypes(t *testing.T) {
	router, s := setupRouter(t)

	s.Insert("/h/a", 1)
	s.Insert("/h/b", 2)
	s.Insert("/other", 3)

	w := doJSON(t, router, http.MethodGet, "/api/v1/space/paths?glob=/h/*", nil)
	require.Equal(t, http.StatusOK, w.Code)
	paths := decodeBody[PathListResponse](t, w)
	assert.Equal(t, 2, paths.Count)
	assert.ElementsMatch(t, []string{"/h/a", "/h/b"}, paths.Paths)

	w = doJSON(t, router, http.MethodGet, "/api/v1/space/types?path=/h/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	types := decodeBody[TypesResponse](t, w)
	require.Len(t, types.Types, 1)
	assert.Equal(t, "int", types.Types[0].Type)

	w = doJSON(t, router, http.MethodGet, "/api/v1/space/types", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_SpaceStats(t *testing.T) {
	router, s := setupRouter(t)

	s.Insert("/a", 1)

	w := doJSON(t, router, http.MethodGet, "/api/v1/space/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[SpaceStats](t, w)
	assert.Equal(t, 1, st.Tree.Entries)
}

func TestHandlers_HistoryFlow(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/history/enable/app", nil)
	require.Equal(t, http.StatusOK, w.Code)

	for _, v := range []int{1, 2} {
		w = doJSON(t, router, http.MethodPost, "/api/v1/space/insert",
			InsertRequest{Path: "/app/v", Value: v})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/root/app", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[history.Stats](t, w)
	assert.Equal(t, "/app", st.Root)
	assert.Equal(t, 2, st.Counts.Undo)

	w = doJSON(t, router, http.MethodPost, "/api/v1/history/undo/app",
		StepsRequest{Steps: 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/space/read",
		ValueRequest{Path: "/app/v"})
	require.Equal(t, http.StatusOK, w.Code)
	read := decodeBody[ValueResponse](t, w)
	assert.Equal(t, float64(1), read.Value)

	w = doJSON(t, router, http.MethodPost, "/api/v1/history/redo/app", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[HistoryStatsResponse](t, w)
	require.Len(t, all.Roots, 1)

	w = doJSON(t, router, http.MethodPost, "/api/v1/history/trim/app", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/history/disable/app", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/root/app", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	errResp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "HISTORY_DISABLED", errResp.Code)
}

func TestHandlers_UndoPastBottomConflicts(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/history/enable/app", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/history/undo/app", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	errResp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "NOTHING_TO_UNDO", errResp.Code)
}

func TestHandlers_SnapshotAndDelta(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/history/enable/app", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/space/insert",
		InsertRequest{Path: "/app/v", Value: "data"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/snapshot/app", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody[history.SnapshotReport](t, w)
	assert.Equal(t, "/app", snap.Root)
	require.NotNil(t, snap.Tree)

	w = doJSON(t, router, http.MethodGet, "/api/v1/history/delta/app", nil)
	require.Equal(t, http.StatusOK, w.Code)
	delta := decodeBody[history.DeltaReport](t, w)
	assert.Equal(t, "/app", delta.Root)
}

func TestHandlers_BlockingReadTimesOut(t *testing.T) {
	router, _ := setupRouter(t)

	start := time.Now()
	w := doJSON(t, router, http.MethodPost, "/api/v1/space/read",
		ValueRequest{Path: "/never", TimeoutMS: 50})
	require.Equal(t, http.StatusRequestTimeout, w.Code)
	require.Less(t, time.Since(start), time.Second)
}

func TestHandlers_RequestIDEchoed(t *testing.T) {
	router, _ := setupRouter(t)

	req, err := http.NewRequest(http.MethodGet, "/api/v1/space/paths", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "trace-me", w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodGet, "/api/v1/space/paths", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_RateLimit(t *testing.T) {
	s := newSpace(t)
	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(1, 1))
	RegisterRoutes(v1, NewHandlers(s))

	w := doJSON(t, router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	errResp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "RATE_LIMITED", errResp.Code)
}

func TestHandlers_EventFeedWebsocket(t *testing.T) {
	router, s := setupRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/events"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	var greeting map[string]string
	require.NoError(t, ws.ReadJSON(&greeting))
	assert.Equal(t, "subscribed", greeting["type"])
	assert.NotEmpty(t, greeting["subscription_id"])

	s.Insert("/ws/x", 1)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, EventInsert, ev.Type)
	assert.Equal(t, "/ws/x", ev.Path)
}
