package script

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/apate/engine/internal/apate/apatetypes"
)

// cache holds compiled script artifacts behind one readers-writer lock
// split into two maps: "global" scripts (ApateSpecs.scripts, keyed by
// id) and "site" scripts (inline script text encountered at a specific
// Deceit/response/matcher position, keyed by its resource-ref string).
type cache struct {
	mu     sync.RWMutex
	global map[string]*goja.Program
	site   map[string]*goja.Program
}

func newCache() *cache {
	return &cache{
		global: make(map[string]*goja.Program),
		site:   make(map[string]*goja.Program),
	}
}

func (c *cache) getGlobal(id string) (*goja.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.global[id]
	return p, ok
}

// getOrCompileSite returns the cached program for key, compiling and
// inserting it under a write lock (double-checked) if absent.
func (c *cache) getOrCompileSite(key, source string) (*goja.Program, error) {
	c.mu.RLock()
	p, ok := c.site[key]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.site[key]; ok {
		return p, nil
	}
	p, err := goja.Compile(key, source, false)
	if err != nil {
		return nil, fmt.Errorf("compile script %q: %w", key, err)
	}
	c.site[key] = p
	return p, nil
}

// clear empties both maps; used by Runtime.Invalidate.
func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = make(map[string]*goja.Program)
	c.site = make(map[string]*goja.Program)
}

// loadGlobals compiles defs into a detached map and, only if every one of
// them compiles successfully, installs it as the global map and drops the
// site map — site keys are resource-ref positions in the document being
// replaced, so they cannot outlive it. On a compile failure neither map
// is touched, leaving a previously-installed document's scripts (global
// and site) fully usable.
func (c *cache) loadGlobals(defs []apatetypes.ScriptDef) error {
	compiled := make(map[string]*goja.Program, len(defs))
	for _, def := range defs {
		p, err := goja.Compile(def.ID, def.Source, false)
		if err != nil {
			return fmt.Errorf("compile script %q: %w", def.ID, err)
		}
		compiled[def.ID] = p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = compiled
	c.site = make(map[string]*goja.Program)
	return nil
}
