// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestStatusResponseWriter_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"400 Bad Request", http.StatusBadRequest},
		{"404 Not Found", http.StatusNotFound},
		{"500 Internal Error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sw := newStatusResponseWriter(rec)

			sw.WriteHeader(tt.statusCode)

			if sw.statusCode != tt.statusCode {
				t.Errorf("captured status = %d, want %d", sw.statusCode, tt.statusCode)
			}
			if rec.Code != tt.statusCode {
				t.Errorf("recorded status = %d, want %d", rec.Code, tt.statusCode)
			}
		})
	}
}

func TestStatusResponseWriter_WriteDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStatusResponseWriter(rec)

	if _, err := sw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if sw.statusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", sw.statusCode, http.StatusOK)
	}
	if got := rec.Body.String(); got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
}

func TestStatusResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newStatusResponseWriter(rec)

	sw.WriteHeader(http.StatusNotFound)
	sw.WriteHeader(http.StatusOK)

	if sw.statusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", sw.statusCode, http.StatusNotFound)
	}
}

func TestStatusResponseWriter_HijackUnsupported(t *testing.T) {
	// httptest.ResponseRecorder does not implement http.Hijacker.
	sw := newStatusResponseWriter(httptest.NewRecorder())

	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack() on a non-hijackable writer should fail")
	}
}

func TestMetricsMiddleware_PassesRequestsThrough(t *testing.T) {
	metrics, err := NewMetrics(otel.Meter("test_middleware"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	wrapped := MetricsMiddleware(metrics)(handler)

	req := httptest.NewRequest(http.MethodGet, "/space/stats", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if got := rec.Body.String(); got != "short and stout" {
		t.Errorf("body = %q, want %q", got, "short and stout")
	}
}

func TestNewMetrics_RegistersInstruments(t *testing.T) {
	metrics, err := NewMetrics(otel.Meter("test_metrics_registration"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	if metrics.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if metrics.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration is nil")
	}
	if metrics.HTTPActiveRequests == nil {
		t.Error("HTTPActiveRequests is nil")
	}
}
