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

// Match reports whether a single path component matches a single pattern
// component.
//
// Pattern syntax:
//
//	\x   matches the literal character x (x one of * ? [ ] \)
//	?    matches any single character
//	*    matches any run of characters, including the empty run
//	[..] matches one character from the class; [!..] negates; a-z is a
//	     range with a < z; a leading or trailing '-' is a literal
//
// A malformed class (unclosed bracket) matches nothing. Neither argument
// may contain '/'.
func Match(name, pattern string) bool {
	n, p := 0, 0
	starP, starN := -1, 0

	for n < len(name) {
		if p < len(pattern) {
			c := pattern[p]
			switch {
			case c == '\\' && p+1 < len(pattern) && isEscapable(pattern[p+1]):
				if name[n] == pattern[p+1] {
					p += 2
					n++
					continue
				}
			case c == '?':
				p++
				n++
				continue
			case c == '*':
				starP, starN = p, n
				p++
				continue
			case c == '[':
				matched, next, ok := matchClass(name[n], pattern, p)
				if !ok {
					return false
				}
				if matched {
					p = next
					n++
					continue
				}
			default:
				if c == name[n] {
					p++
					n++
					continue
				}
			}
		}
		if starP >= 0 {
			starN++
			n = starN
			p = starP + 1
			continue
		}
		return false
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass tests c against the class opening at pattern[open]. It returns
// whether c is in the class, the index just past the closing bracket, and
// whether the class was well formed.
func matchClass(c byte, pattern string, open int) (matched bool, next int, ok bool) {
	i := open + 1
	negated := false
	if i < len(pattern) && pattern[i] == '!' {
		negated = true
		i++
	}

	inSet := false
	var prev byte
	havePrev := false
	for i < len(pattern) {
		ch := pattern[i]
		switch {
		case ch == ']':
			return inSet != negated, i + 1, true
		case ch == '\\' && i+1 < len(pattern) && isEscapable(pattern[i+1]):
			ch = pattern[i+1]
			i++
			if ch == c {
				inSet = true
			}
			prev, havePrev = ch, true
		case ch == '-' && havePrev && i+1 < len(pattern) && pattern[i+1] != ']':
			high := pattern[i+1]
			if high == '\\' && i+2 < len(pattern) && isEscapable(pattern[i+2]) {
				high = pattern[i+2]
				i++
			}
			if c >= prev && c <= high {
				inSet = true
			}
			havePrev = false
			i++
		default:
			if ch == c {
				inSet = true
			}
			prev, havePrev = ch, true
		}
		i++
	}
	return false, 0, false
}

// MatchPaths reports whether the concrete path target matches pattern,
// component by component. A pattern component of "**" matches any number of
// components, including none. MatchPaths with a concrete pattern degrades
// to path equality, which lets callers cross-match waiter registrations
// against notifications without caring which side is the glob.
func MatchPaths(target, pattern string) bool {
	return matchComponents(Components(target), Components(pattern))
}

func matchComponents(target, pattern []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(target); i++ {
				if matchComponents(target[i:], pattern[1:]) {
					return true
				}
			}
			return false
		}
		if len(target) == 0 {
			return false
		}
		if !Match(target[0], pattern[0]) {
			return false
		}
		target = target[1:]
		pattern = pattern[1:]
	}
	return len(target) == 0
}
