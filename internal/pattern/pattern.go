// (C) 2025 GoodData Corporation

// Package pattern compiles route path patterns like "/api/users/:id/*" into
// segment lists and matches request paths against them. Patterns are data,
// not regexes: metacharacters in literal segments need no escaping.
package pattern

import (
	"fmt"
	"strings"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segCapture
	segWildcard
)

type segment struct {
	kind segmentKind
	// literal text or capture name
	value string
}

// Pattern is a compiled path pattern. The zero value matches nothing; use
// Compile.
type Pattern struct {
	raw      string
	segments []segment
	// suffix marks a trailing "/*": the pattern matches any remainder.
	suffix bool
	// any marks the bare "*" pattern, which matches every path.
	any bool
}

// Compile parses a path pattern. Supported syntax: literal segments,
// ":name" single-segment captures, "*" single-segment wildcards, a
// trailing "/*" suffix wildcard, and the bare "*" which matches any path.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty path pattern")
	}
	if raw == "*" {
		return &Pattern{raw: raw, any: true}, nil
	}
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("path pattern %q must start with '/'", raw)
	}

	p := &Pattern{raw: raw}
	parts := splitPath(raw)
	for i, part := range parts {
		switch {
		case part == "*" && i == len(parts)-1:
			p.suffix = true
		case part == "*":
			p.segments = append(p.segments, segment{kind: segWildcard})
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("path pattern %q has an unnamed capture", raw)
			}
			p.segments = append(p.segments, segment{kind: segCapture, value: name})
		default:
			p.segments = append(p.segments, segment{kind: segLiteral, value: part})
		}
	}
	return p, nil
}

// MustCompile is Compile that panics on error, for static patterns.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// Match reports whether path matches the pattern.
func (p *Pattern) Match(path string) bool {
	_, ok := p.match(path)
	return ok
}

// Params matches path and returns the captured ":name" parameters. The map
// is nil when the path does not match or the pattern has no captures.
func (p *Pattern) Params(path string) (map[string]string, bool) {
	return p.match(path)
}

func (p *Pattern) match(path string) (map[string]string, bool) {
	if p.any {
		return nil, true
	}
	parts := splitPath(path)

	if p.suffix {
		if len(parts) < len(p.segments) {
			return nil, false
		}
		parts = parts[:len(p.segments)]
	} else if len(parts) != len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		switch seg.kind {
		case segLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segCapture:
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.value] = parts[i]
		case segWildcard:
			// matches any single segment
		}
	}
	return params, true
}

// splitPath splits a URL path into its non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
