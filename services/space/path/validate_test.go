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

import (
	"errors"
	"testing"
)

// TestValidateStructural verifies the cheap structural check.
func TestValidateStructural(t *testing.T) {
	tests := []struct {
		name string
		path string
		kind ErrorKind
		ok   bool
	}{
		{"simple", "/a/b", 0, true},
		{"root", "/", 0, true},
		{"empty", "", KindEmptyPath, false},
		{"no leading slash", "a/b", KindMustStartWithSlash, false},
		{"trailing slash", "/a/b/", KindEndsWithSlash, false},
		{"glob passes structural", "/a/*", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStructural(tt.path)
			if tt.ok {
				if err != nil {
					t.Fatalf("ValidateStructural(%q) = %v, want nil", tt.path, err)
				}
				return
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateStructural(%q) = %v, want *Error", tt.path, err)
			}
			if verr.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", verr.Kind, tt.kind)
			}
		})
	}
}

// TestValidateGlob verifies the full grammar over glob paths.
func TestValidateGlob(t *testing.T) {
	valid := []string{
		"/a",
		"/a/b/c",
		"/a/*",
		"/a/*/c",
		"/file?.txt",
		"/data/[abc]",
		"/data/[!abc]",
		"/data/[a-z]",
		"/data/[a-z0-9]",
		"/esc/\\*literal",
		"/esc/\\[literal",
		"/queue[0]",
		"/queue[12]",
		"/.hidden",
		"/a/..b",
	}
	for _, p := range valid {
		if err := ValidateGlob(p); err != nil {
			t.Errorf("ValidateGlob(%q) = %v, want nil", p, err)
		}
	}

	invalid := []struct {
		path string
		kind ErrorKind
	}{
		{"", KindEmptyPath},
		{"a/b", KindMustStartWithSlash},
		{"/a/", KindEndsWithSlash},
		{"/", KindNoContent},
		{"//", KindEndsWithSlash},
		{"//a", KindEmptyPathComponent},
		{"/a//b", KindEmptyPathComponent},
		{"/./a", KindRelativePath},
		{"/a/..", KindRelativePath},
		{"/a/[b/c]", KindSlashInBrackets},
		{"/a/[b[c]]", KindNestedBrackets},
		{"/a/[bc", KindUnclosedBracket},
		{"/a/[!]", KindEmptyNegatedBracket},
		{"/a/b]", KindUnmatchedClosingBracket},
		{"/a/[]", KindEmptyBracket},
		{"/a/[b-]", KindInvalidRangeSpec},
		{"/a/[-b]", KindInvalidRangeSpec},
		{"/a/[z-a]", KindInvalidCharRange},
		{"/a/[b-b]", KindInvalidCharRange},
	}
	for _, tt := range invalid {
		err := ValidateGlob(tt.path)
		var verr *Error
		if !errors.As(err, &verr) {
			t.Errorf("ValidateGlob(%q) = %v, want *Error", tt.path, err)
			continue
		}
		if verr.Kind != tt.kind {
			t.Errorf("ValidateGlob(%q) kind = %v, want %v", tt.path, verr.Kind, tt.kind)
		}
	}
}

// TestValidateConcrete verifies that concrete validation rejects unescaped
// metacharacters but keeps index qualifiers and escaped literals.
func TestValidateConcrete(t *testing.T) {
	valid := []string{
		"/a/b",
		"/queue[1]",
		"/a/queue[42]",
		"/esc/\\*",
		"/esc/\\[x\\]",
	}
	for _, p := range valid {
		if err := ValidateConcrete(p); err != nil {
			t.Errorf("ValidateConcrete(%q) = %v, want nil", p, err)
		}
	}

	globby := []string{
		"/a/*",
		"/a/b?",
		"/a/[bc]",
		"/a/[!b]",
	}
	for _, p := range globby {
		err := ValidateConcrete(p)
		if !errors.Is(err, ErrPatternInConcrete) {
			t.Errorf("ValidateConcrete(%q) = %v, want ErrPatternInConcrete", p, err)
		}
	}

	// Grammar errors win over the metacharacter check.
	err := ValidateConcrete("/a//b")
	var verr *Error
	if !errors.As(err, &verr) || verr.Kind != KindEmptyPathComponent {
		t.Errorf("ValidateConcrete(/a//b) = %v, want EmptyPathComponent", err)
	}
}

// TestErrorPosition verifies the reported byte offsets point at the defect.
func TestErrorPosition(t *testing.T) {
	tests := []struct {
		path string
		pos  int
	}{
		{"/a//b", 3},
		{"/ab/", 3},
		{"/a/[x/y]", 5},
	}
	for _, tt := range tests {
		var verr *Error
		if !errors.As(ValidateGlob(tt.path), &verr) {
			t.Fatalf("ValidateGlob(%q): no *Error", tt.path)
		}
		if verr.Pos != tt.pos {
			t.Errorf("ValidateGlob(%q) pos = %d, want %d", tt.path, verr.Pos, tt.pos)
		}
	}
}

// TestErrorKindString covers the kind names used in logs.
func TestErrorKindString(t *testing.T) {
	if got := KindUnclosedBracket.String(); got != "UnclosedBracket" {
		t.Errorf("String() = %q", got)
	}
	if got := ErrorKind(99).String(); got != "Unknown" {
		t.Errorf("String() = %q", got)
	}
}
