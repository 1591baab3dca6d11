// Package match implements the bus's segmented glob matcher: a pure
// predicate over dotted event-type names, deliberately free of regexp per
// spec §9 ("Glob matcher... implemented as a pure function with no regex
// dependency").
package match

import "strings"

// Matches reports whether eventType satisfies pattern.
//
// The pattern is exactly "*" (matches anything), or both operands split
// into the same number of dot-separated segments and every pattern segment
// is either "*" (matches any single non-empty segment) or equal to the
// corresponding type segment.
func Matches(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}

	patternSegs := strings.Split(pattern, ".")
	typeSegs := strings.Split(eventType, ".")
	if len(patternSegs) != len(typeSegs) {
		return false
	}

	for i, p := range patternSegs {
		if p == "*" {
			if typeSegs[i] == "" {
				return false
			}
			continue
		}
		if p != typeSegs[i] {
			return false
		}
	}
	return true
}
