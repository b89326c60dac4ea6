// Package config implements the hot-swappable ApateSpecs document holder:
// a lock-free atomic snapshot pointer so request handlers read a
// consistent document for the whole request with no blocking, while admin
// writers serialize among themselves and drive cache invalidation.
package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apate/engine/internal/apate/apatetypes"
)

// ScriptCache is the script runtime's cache-maintenance seam.
// LoadGlobalScripts must be atomic: compile every definition into a
// detached cache first and only install it (including dropping any
// site-keyed programs, whose resource-ref keys belong to the document
// being replaced) once all of them succeed, so a failed write leaves the
// previously-installed document's scripts fully usable.
type ScriptCache interface {
	LoadGlobalScripts(defs []apatetypes.ScriptDef) error
}

// TemplateCache is the template runtime's cache-maintenance seam.
type TemplateCache interface {
	Invalidate()
}

// Manager holds the active ApateSpecs document behind an atomic pointer.
// A reader that loads the pointer at the start of a request holds an
// immutable value for its whole duration even if a concurrent write
// replaces the pointer — the same guarantee a readers-writer lock would
// give a read-lock holder, without making readers block at all.
type Manager struct {
	current atomic.Pointer[apatetypes.ApateSpecs]

	writeMu   sync.Mutex
	scripts   ScriptCache
	templates TemplateCache
}

// NewManager builds a Manager seeded with initial, wiring the script and
// template caches that must be invalidated on every subsequent write.
func NewManager(initial apatetypes.ApateSpecs, scripts ScriptCache, templates TemplateCache) (*Manager, error) {
	m := &Manager{scripts: scripts, templates: templates}
	if err := m.apply(initial); err != nil {
		return nil, fmt.Errorf("load initial config: %w", err)
	}
	return m, nil
}

// Current returns the active document. Safe to call concurrently with
// writers; never blocks.
func (m *Manager) Current() apatetypes.ApateSpecs {
	p := m.current.Load()
	if p == nil {
		return apatetypes.ApateSpecs{}
	}
	return *p
}

// Replace atomically installs doc as the active document.
func (m *Manager) Replace(doc apatetypes.ApateSpecs) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.apply(doc)
}

// Append concatenates doc's Deceit list and scripts after the existing
// ones.
func (m *Manager) Append(doc apatetypes.ApateSpecs) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.apply(m.Current().Merge(doc))
}

// Prepend concatenates doc's Deceit list and scripts before the existing
// ones.
func (m *Manager) Prepend(doc apatetypes.ApateSpecs) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.apply(doc.Merge(m.Current()))
}

// apply validates doc and compiles its scripts before touching any live
// state. Only once LoadGlobalScripts reports success are the template
// cache invalidated and doc installed as the active document — a script
// compile failure returns an error having changed nothing, so a bad admin
// write never leaves a partially-applied document live. Caller must hold
// writeMu.
func (m *Manager) apply(doc apatetypes.ApateSpecs) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	if err := m.scripts.LoadGlobalScripts(doc.Scripts); err != nil {
		return fmt.Errorf("reload scripts: %w", err)
	}
	m.templates.Invalidate()

	cp := doc
	m.current.Store(&cp)
	return nil
}
