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
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Default per-client request budget for the inspector surface.
const (
	DefaultRequestsPerSecond = 50
	DefaultBurst             = 100
)

// clientLimiters hands out one token bucket per client IP.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*rate.Limiter),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.clients[ip]
	if !ok {
		l = rate.NewLimiter(cl.limit, cl.burst)
		cl.clients[ip] = l
	}
	return l
}

// RateLimitMiddleware returns per-client-IP token bucket middleware for
// the inspector routes.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiters := newClientLimiters(rps, burst)
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// RegisterRoutes registers all inspector routes with the router.
//
// Description:
//
//	Registers the store and history endpoints with the given Gin
//	router group. The router group should already have any required
//	middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /api/v1)
//	handlers - The handlers instance
//
// Store Endpoints:
//
//	GET  /space/stats - Component statistics
//	GET  /space/paths - List data-holding paths, optional ?glob= filter
//	GET  /space/types - Queued type runs at ?path=
//	POST /space/insert - Insert a JSON value
//	POST /space/read - Read the front value, optional blocking
//	POST /space/take - Take the front value, optional blocking
//
// History Endpoints:
//
//	GET  /history/stats - Stats for every enabled root
//	GET  /history/root/*root - Stats for one root
//	GET  /history/snapshot/*root - Rendered live subtree
//	GET  /history/delta/*root - Baseline vs live sharing report
//	POST /history/enable/*root - Enable undo/redo for a root
//	POST /history/disable/*root - Disable undo/redo for a root
//	POST /history/undo/*root - Roll back, optional {"steps": n}
//	POST /history/redo/*root - Re-apply, optional {"steps": n}
//	POST /history/trim/*root - Run retention now
//
// Other Endpoints:
//
//	GET  /ws/events - Websocket mutation event feed
//	GET  /health - Health check
//
// Example:
//
//	sp := space.New(space.WithStore(db))
//	handlers := space.NewHandlers(sp)
//
//	v1 := router.Group("/api/v1")
//	v1.Use(space.RateLimitMiddleware(space.DefaultRequestsPerSecond, space.DefaultBurst))
//	space.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	sp := rg.Group("/space")
	{
		sp.GET("/stats", handlers.HandleStats)
		sp.GET("/paths", handlers.HandlePaths)
		sp.GET("/types", handlers.HandleTypes)
		sp.POST("/insert", handlers.HandleInsert)
		sp.POST("/read", handlers.HandleRead)
		sp.POST("/take", handlers.HandleTake)
	}

	hist := rg.Group("/history")
	{
		hist.GET("/stats", handlers.HandleHistoryStats)
		hist.GET("/root/*root", handlers.HandleHistoryRootStats)
		hist.GET("/snapshot/*root", handlers.HandleHistorySnapshot)
		hist.GET("/delta/*root", handlers.HandleHistoryDelta)
		hist.POST("/enable/*root", handlers.HandleHistoryEnable)
		hist.POST("/disable/*root", handlers.HandleHistoryDisable)
		hist.POST("/undo/*root", handlers.HandleUndo)
		hist.POST("/redo/*root", handlers.HandleRedo)
		hist.POST("/trim/*root", handlers.HandleTrim)
	}

	rg.GET("/ws/events", handlers.HandleEvents)
	rg.GET("/health", handlers.HandleHealth)
}
