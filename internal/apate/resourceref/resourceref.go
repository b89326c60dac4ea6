// Package resourceref identifies a location within the Deceit tree by a
// path of integer indices, used as the cache key for per-site compiled
// scripts and templates.
package resourceref

import "strconv"

// Ref is a path of indices, e.g. Ref{0, 1} for the second response of the
// first Deceit, or Ref{0, 1, 2} for the third matcher of that response.
type Ref []int

// Key renders the ref as a stable string suitable for use as a map key,
// e.g. "0.1.2".
func (r Ref) Key() string {
	if len(r) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(r)*3)
	for i, idx := range r {
		if i > 0 {
			buf = append(buf, '.')
		}
		buf = strconv.AppendInt(buf, int64(idx), 10)
	}
	return string(buf)
}

// Child returns a new Ref with idx appended, leaving r untouched.
func (r Ref) Child(idx int) Ref {
	out := make(Ref, len(r)+1)
	copy(out, r)
	out[len(r)] = idx
	return out
}

// WithSuffix returns a cache key combining the ref with a named facet, e.g.
// "0.1:output" to distinguish a response's output script from its
// matcher scripts which share the same [d, r] prefix.
func (r Ref) WithSuffix(suffix string) string {
	return r.Key() + ":" + suffix
}
