// Package urlpattern matches request paths against Deceit URI patterns
// containing named single-segment captures of the form {name}.
package urlpattern

import (
	"fmt"
	"strings"
)

type segment struct {
	literal   string
	isCapture bool
	name      string
}

// Pattern is a compiled URI pattern. Matching requires the pattern to
// consume the entire request path; trailing slashes are significant since
// they produce a trailing empty segment that must line up on both sides.
type Pattern struct {
	source   string
	segments []segment
}

// Compile parses a pattern like "/user/{id}" into segments. A segment of
// exactly "{name}" is a capture; anything else, including a segment merely
// containing braces, is matched literally.
func Compile(pattern string) (Pattern, error) {
	parts := strings.Split(pattern, "/")
	segs := make([]segment, len(parts))
	seen := make(map[string]bool, len(parts))
	for i, p := range parts {
		if len(p) >= 2 && p[0] == '{' && p[len(p)-1] == '}' {
			name := p[1 : len(p)-1]
			if name == "" {
				return Pattern{}, fmt.Errorf("urlpattern: empty capture name in %q", pattern)
			}
			if seen[name] {
				return Pattern{}, fmt.Errorf("urlpattern: duplicate capture name %q in %q", name, pattern)
			}
			seen[name] = true
			segs[i] = segment{isCapture: true, name: name}
			continue
		}
		segs[i] = segment{literal: p}
	}
	return Pattern{source: pattern, segments: segs}, nil
}

// MustCompile is Compile but panics on error; for use with literal
// patterns known at init time.
func MustCompile(pattern string) Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the original pattern string.
func (p Pattern) Source() string { return p.source }

// Match reports whether path fully matches the pattern, and if so returns
// the captured path arguments.
func (p Pattern) Match(path string) (map[string]string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}

	var captures map[string]string
	for i, seg := range p.segments {
		part := parts[i]
		if seg.isCapture {
			if part == "" {
				return nil, false
			}
			if captures == nil {
				captures = make(map[string]string, len(p.segments))
			}
			captures[seg.name] = part
			continue
		}
		if part != seg.literal {
			return nil, false
		}
	}
	if captures == nil {
		captures = map[string]string{}
	}
	return captures, true
}

// FirstMatch tries each pattern in order and returns the index and
// captures of the first one that matches the full path.
func FirstMatch(patterns []Pattern, path string) (idx int, captures map[string]string, ok bool) {
	for i, p := range patterns {
		if c, matched := p.Match(path); matched {
			return i, c, true
		}
	}
	return -1, nil, false
}
