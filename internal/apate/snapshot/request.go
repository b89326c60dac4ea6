// Package snapshot holds the immutable per-request view read by matchers,
// scripts and templates, plus the small mutable cell (override status)
// shared by the response-side context.
package snapshot

import (
	"encoding/json"
	"strings"
	"sync"
)

// bodyJSONCache lazily parses the request body as JSON, at most once per
// request, caching the error too so repeated Json matchers against a
// malformed body don't re-parse.
type bodyJSONCache struct {
	once sync.Once
	val  any
	err  error
}

// Headers is a request header multimap. Canonical case is preserved as
// received; lookups are case-insensitive.
type Headers struct {
	byCanonical map[string][]string
}

// NewHeaders builds a Headers multimap from ordered key/value pairs.
func NewHeaders(pairs [][2]string) Headers {
	m := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		m[p[0]] = append(m[p[0]], p[1])
	}
	return Headers{byCanonical: m}
}

// Get returns the first value for key, matched case-insensitively.
func (h Headers) Get(key string) (string, bool) {
	for k, vs := range h.byCanonical {
		if len(vs) > 0 && strings.EqualFold(k, key) {
			return vs[0], true
		}
	}
	return "", false
}

// Lower returns a lowercase-keyed map of first values, the convention
// scripts and templates see via ctx.load_headers().
func (h Headers) Lower() map[string]string {
	out := make(map[string]string, len(h.byCanonical))
	for k, vs := range h.byCanonical {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	return out
}

// RequestSnapshot is the immutable-after-construction view of an incoming
// request. It is passed by value; the json cache is held behind a pointer
// so copies (e.g. WithPathArgs, taken once per Deceit attempt since
// capture names differ per URI pattern) share one lazily-computed parse.
type RequestSnapshot struct {
	Method    string
	Path      string
	PathArgs  map[string]string
	QueryArgs map[string]string
	Headers   Headers
	Body      []byte

	jsonCache *bodyJSONCache
}

// New builds a RequestSnapshot. queryArgs must already reflect
// last-value-wins on duplicate keys.
func New(method, path string, headerPairs [][2]string, queryArgs map[string]string, body []byte) RequestSnapshot {
	return RequestSnapshot{
		Method:    strings.ToUpper(method),
		Path:      path,
		PathArgs:  map[string]string{},
		QueryArgs: queryArgs,
		Headers:   NewHeaders(headerPairs),
		Body:      body,
		jsonCache: &bodyJSONCache{},
	}
}

// WithPathArgs returns a copy of s with its path arguments replaced; used
// once per Deceit whose URI pattern successfully matched.
func (s RequestSnapshot) WithPathArgs(args map[string]string) RequestSnapshot {
	cp := s
	cp.PathArgs = args
	return cp
}

// JSON lazily parses Body as JSON, caching both the value and any error.
func (s RequestSnapshot) JSON() (any, error) {
	s.jsonCache.once.Do(func() {
		s.jsonCache.err = json.Unmarshal(s.Body, &s.jsonCache.val)
	})
	return s.jsonCache.val, s.jsonCache.err
}
