// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package path

import "testing"

// TestMatch verifies single-component pattern matching.
func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		pattern string
		want    bool
	}{
		{"literal equal", "abc", "abc", true},
		{"literal unequal", "abc", "abd", false},
		{"question mark", "abc", "a?c", true},
		{"question needs char", "ac", "a?c", false},
		{"star run", "abc", "a*c", true},
		{"star empty run", "ac", "a*c", true},
		{"trailing star", "abcdef", "abc*", true},
		{"lone star", "anything", "*", true},
		{"star matches empty", "", "*", true},
		{"double star backtrack", "aXbXc", "a*X*c", true},
		{"class member", "ab", "a[bc]", true},
		{"class non member", "ad", "a[bc]", false},
		{"negated class", "ad", "a[!bc]", true},
		{"negated class member", "ab", "a[!bc]", false},
		{"range low", "a", "[a-z]", true},
		{"range high", "z", "[a-z]", true},
		{"range outside", "A", "[a-z]", false},
		{"two ranges", "5", "[a-z0-9]", true},
		{"escaped star literal", "a*b", "a\\*b", true},
		{"escaped star no wildcard", "axb", "a\\*b", false},
		{"escaped bracket", "a[b", "a\\[b", true},
		{"unclosed bracket never matches", "ab", "a[bc", false},
		{"unclosed bracket even with star", "ab", "*[bc", false},
		{"empty pattern empty name", "", "", true},
		{"empty pattern nonempty name", "a", "", false},
		{"class then star", "abcde", "[ab]*e", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.target, tt.pattern); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.target, tt.pattern, got, tt.want)
			}
		})
	}
}

// TestMatchPaths verifies whole-path matching including the component
// crossing "**" wildcard.
func TestMatchPaths(t *testing.T) {
	tests := []struct {
		target  string
		pattern string
		want    bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/c", false},
		{"/a/b", "/a/*", true},
		{"/a/b/c", "/a/*", false},
		{"/a/b/c", "/a/*/c", true},
		{"/a/b/c", "/**", true},
		{"/a/b/c", "/a/**", true},
		{"/a/b/c", "/a/**/c", true},
		{"/a/c", "/a/**/c", true},
		{"/a/b/x", "/a/**/c", false},
		{"/a", "/a/**", true},
		{"/a//b", "/a/b", true},
	}

	for _, tt := range tests {
		if got := MatchPaths(tt.target, tt.pattern); got != tt.want {
			t.Errorf("MatchPaths(%q, %q) = %v, want %v", tt.target, tt.pattern, got, tt.want)
		}
	}
}

// TestIsGlob verifies metacharacter detection with escapes and index
// qualifiers.
func TestIsGlob(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b", false},
		{"/a/*", true},
		{"/a/b?", true},
		{"/a/[bc]", true},
		{"/a/\\*", false},
		{"/a/\\[x\\]", false},
		{"/queue[1]", false},
		{"/queue[12]/next", false},
		{"/queue[1x]", true},
		{"/[1]", true},
	}

	for _, tt := range tests {
		if got := IsGlob(tt.path); got != tt.want {
			t.Errorf("IsGlob(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
