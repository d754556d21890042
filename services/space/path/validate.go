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
	"fmt"
)

// ErrorKind identifies the first grammar defect found while validating a
// path string.
type ErrorKind int

const (
	KindEmptyPath ErrorKind = iota
	KindMustStartWithSlash
	KindEndsWithSlash
	KindEmptyPathComponent
	KindRelativePath
	KindSlashInBrackets
	KindNestedBrackets
	KindUnclosedBracket
	KindEmptyNegatedBracket
	KindUnmatchedClosingBracket
	KindEmptyBracket
	KindInvalidRangeSpec
	KindInvalidCharRange
	KindNoContent
)

// String returns a short human-readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindEmptyPath:
		return "EmptyPath"
	case KindMustStartWithSlash:
		return "MustStartWithSlash"
	case KindEndsWithSlash:
		return "EndsWithSlash"
	case KindEmptyPathComponent:
		return "EmptyPathComponent"
	case KindRelativePath:
		return "RelativePath"
	case KindSlashInBrackets:
		return "SlashInBrackets"
	case KindNestedBrackets:
		return "NestedBrackets"
	case KindUnclosedBracket:
		return "UnclosedBracket"
	case KindEmptyNegatedBracket:
		return "EmptyNegatedBracket"
	case KindUnmatchedClosingBracket:
		return "UnmatchedClosingBracket"
	case KindEmptyBracket:
		return "EmptyBracket"
	case KindInvalidRangeSpec:
		return "InvalidRangeSpec"
	case KindInvalidCharRange:
		return "InvalidCharRange"
	case KindNoContent:
		return "NoContent"
	default:
		return "Unknown"
	}
}

// Error reports a validation failure with the byte offset of the offending
// character.
type Error struct {
	Kind ErrorKind
	Pos  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid path at offset %d: %s", e.Pos, e.Kind)
}

// ErrPatternInConcrete is returned by ValidateConcrete when a path that is
// otherwise grammatically valid contains an unescaped glob metacharacter.
var ErrPatternInConcrete = errors.New("concrete path contains glob metacharacter")

// Level selects how much validation an operation pays for.
type Level int

const (
	// LevelStructural checks only the leading slash, trailing slash and
	// non-emptiness. Cheap enough for hot paths.
	LevelStructural Level = iota
	// LevelFull runs the entire grammar including bracket classes,
	// relative components and empty components.
	LevelFull
)

// ValidateStructural performs the cheap structural check: the path must be
// non-empty, start with '/' and not end with '/' (the bare root "/" is
// accepted at this level).
func ValidateStructural(p string) error {
	if len(p) == 0 {
		return &Error{Kind: KindEmptyPath}
	}
	if p[0] != '/' {
		return &Error{Kind: KindMustStartWithSlash}
	}
	if len(p) > 1 && p[len(p)-1] == '/' {
		return &Error{Kind: KindEndsWithSlash, Pos: len(p) - 1}
	}
	return nil
}

// ValidateConcrete runs the full grammar and additionally rejects unescaped
// glob metacharacters. The bare root "/" fails with NoContent.
func ValidateConcrete(p string) error {
	if err := validateFull(p); err != nil {
		return err
	}
	if pos, ok := firstGlobChar(p); ok {
		return fmt.Errorf("offset %d: %w", pos, ErrPatternInConcrete)
	}
	return nil
}

// ValidateGlob runs the full grammar, permitting glob metacharacters.
func ValidateGlob(p string) error {
	return validateFull(p)
}

// Validate dispatches on level; at LevelFull the glob flag chooses between
// ValidateGlob and ValidateConcrete.
func Validate(p string, level Level, glob bool) error {
	if level == LevelStructural {
		return ValidateStructural(p)
	}
	if glob {
		return ValidateGlob(p)
	}
	return ValidateConcrete(p)
}

// validateFull is a single left-to-right scan over the whole grammar. It
// tracks bracket state, the previous class character for range checks, and
// component boundaries for empty/relative component checks.
func validateFull(p string) error {
	if err := ValidateStructural(p); err != nil {
		return err
	}
	if p == "/" {
		return &Error{Kind: KindNoContent}
	}

	var (
		inBracket    bool
		bracketStart int
		negated      bool
		classChars   int
		prevClass    byte
		pendingLow   byte
		pendingRange bool
		compStart    = 1
	)

	checkComponent := func(end int) *Error {
		comp := p[compStart:end]
		if comp == "." || comp == ".." {
			return &Error{Kind: KindRelativePath, Pos: compStart}
		}
		return nil
	}

	for i := 1; i < len(p); i++ {
		c := p[i]

		if c == '\\' && i+1 < len(p) && isEscapable(p[i+1]) {
			if inBracket {
				// Escaped metacharacter counts as ordinary class content.
				if pendingRange {
					if p[i+1] <= pendingLow {
						return &Error{Kind: KindInvalidCharRange, Pos: i + 1}
					}
					pendingRange = false
					prevClass = 0
				} else {
					prevClass = p[i+1]
					classChars++
				}
			}
			i++
			continue
		}

		if inBracket {
			switch c {
			case '/':
				return &Error{Kind: KindSlashInBrackets, Pos: i}
			case '[':
				return &Error{Kind: KindNestedBrackets, Pos: i}
			case ']':
				if pendingRange {
					return &Error{Kind: KindInvalidRangeSpec, Pos: i - 1}
				}
				if classChars == 0 {
					if negated {
						return &Error{Kind: KindEmptyNegatedBracket, Pos: bracketStart}
					}
					return &Error{Kind: KindEmptyBracket, Pos: bracketStart}
				}
				inBracket = false
			case '-':
				if prevClass == 0 {
					return &Error{Kind: KindInvalidRangeSpec, Pos: i}
				}
				if pendingRange {
					return &Error{Kind: KindInvalidRangeSpec, Pos: i}
				}
				pendingLow = prevClass
				pendingRange = true
			default:
				if pendingRange {
					if c <= pendingLow {
						return &Error{Kind: KindInvalidCharRange, Pos: i}
					}
					pendingRange = false
					prevClass = 0
				} else {
					prevClass = c
					classChars++
				}
			}
			continue
		}

		switch c {
		case '/':
			if i == compStart {
				return &Error{Kind: KindEmptyPathComponent, Pos: i}
			}
			if err := checkComponent(i); err != nil {
				return err
			}
			compStart = i + 1
		case '[':
			inBracket = true
			bracketStart = i
			negated = false
			classChars = 0
			prevClass = 0
			pendingRange = false
			if i+1 < len(p) && p[i+1] == '!' {
				negated = true
				i++
			}
		case ']':
			return &Error{Kind: KindUnmatchedClosingBracket, Pos: i}
		}
	}

	if inBracket {
		return &Error{Kind: KindUnclosedBracket, Pos: bracketStart}
	}
	if compStart < len(p) {
		if err := checkComponent(len(p)); err != nil {
			return err
		}
	}
	return nil
}

// isEscapable reports whether c may follow a backslash as an escaped
// literal.
func isEscapable(c byte) bool {
	switch c {
	case '*', '?', '[', ']', '\\':
		return true
	}
	return false
}

// firstGlobChar returns the offset of the first unescaped glob
// metacharacter, skipping index qualifiers.
func firstGlobChar(p string) (int, bool) {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case '*', '?':
			return i, true
		case '[':
			if end, isIndex := indexQualifierEnd(p, i); isIndex {
				i = end
				continue
			}
			return i, true
		}
	}
	return 0, false
}
