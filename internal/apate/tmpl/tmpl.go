// Package tmpl implements the text/template-backed template runtime used
// when a DeceitResponse's output_type is "template". Templates are
// compiled once and cached by a content fingerprint rather than by
// resource reference, so two responses sharing identical template text
// share one compiled artifact.
package tmpl

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/cespare/xxhash/v2"

	"github.com/apate/engine/internal/apate/snapshot"
)

// fingerprintSalt distinguishes the second keyed hash from the first; any
// fixed, distinct byte sequence works since both hashes run over the same
// source, just salted differently.
var fingerprintSalt = []byte("apate-template-fingerprint-v1")

// fingerprint computes a 128-bit content fingerprint from two 64-bit
// xxhash digests of the source, one unsalted and one salted.
func fingerprint(src string) string {
	b := []byte(src)
	h1 := xxhash.Sum64(b)

	salted := make([]byte, 0, len(b)+len(fingerprintSalt))
	salted = append(salted, b...)
	salted = append(salted, fingerprintSalt...)
	h2 := xxhash.Sum64(salted)

	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(h1 >> (8 * (7 - i)))
		buf[8+i] = byte(h2 >> (8 * (7 - i)))
	}
	return hex.EncodeToString(buf[:])
}

// Runtime compiles and caches templates by content fingerprint.
type Runtime struct {
	mu    sync.RWMutex
	cache map[string]*template.Template
}

// New returns an empty template runtime.
func New() *Runtime {
	return &Runtime{cache: make(map[string]*template.Template)}
}

// Invalidate clears the compiled-template cache; called on any
// configuration write.
func (r *Runtime) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*template.Template)
}

// Render compiles (or reuses a cached compile of) src and executes it
// against respCtx, returning the UTF-8 bytes of the rendered output.
// force_response_code is bound per-render since it closes over respCtx.
func (r *Runtime) Render(src string, respCtx *snapshot.ResponseContext) ([]byte, error) {
	tpl, err := r.getOrCompile(src)
	if err != nil {
		return nil, err
	}

	tpl, err = tpl.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone template: %w", err)
	}
	tpl = tpl.Funcs(template.FuncMap{
		"force_response_code": func(code int) string {
			respCtx.SetOverrideStatus(uint16(code))
			return ""
		},
	})

	var out strings.Builder
	if err := tpl.Execute(&out, map[string]any{"Ctx": respCtx}); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return []byte(out.String()), nil
}

func (r *Runtime) getOrCompile(src string) (*template.Template, error) {
	key := fingerprint(src)

	r.mu.RLock()
	tpl, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok = r.cache[key]; ok {
		return tpl, nil
	}

	tpl, err := template.New(key).Funcs(builtinFuncs()).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	r.cache[key] = tpl
	return tpl, nil
}
