// Package script implements the goja-backed embedded scripting runtime:
// compiled-artifact caching, the ctx/args binding contract, and the
// return-type discipline for predicate vs. body-generation scripts.
//
// goja.Runtime is not safe for concurrent use, so each evaluation borrows
// one VM from a bounded channel-backed pool (see borrow/release); the
// compiled-program cache is the portable artifact shared across the pool,
// not the VM itself.
package script

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/resourceref"
	"github.com/apate/engine/internal/apate/snapshot"
	"github.com/apate/engine/internal/apate/storage"
)

// Runtime is the shared script engine: one compiled-artifact cache plus a
// pool of goja VMs, each pre-bound with the global helper functions.
type Runtime struct {
	cache   *cache
	storage *storage.Store
	pool    chan *goja.Runtime
}

// New creates a Runtime. poolSize bounds how many idle VMs are kept warm;
// a borrow from an empty pool creates a fresh VM immediately rather than
// waiting, and a release into a full pool drops the VM (see
// borrow/release).
func New(store *storage.Store, poolSize int) *Runtime {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Runtime{
		cache:   newCache(),
		storage: store,
		pool:    make(chan *goja.Runtime, poolSize),
	}
}

func (r *Runtime) newVM() *goja.Runtime {
	vm := goja.New()
	installGlobals(vm, r.storage)
	return vm
}

func (r *Runtime) borrow() *goja.Runtime {
	select {
	case vm := <-r.pool:
		return vm
	default:
		return r.newVM()
	}
}

func (r *Runtime) release(vm *goja.Runtime) {
	select {
	case r.pool <- vm:
	default:
		// pool full; let this VM be garbage collected.
	}
}

// Invalidate clears both compiled-artifact caches. Configuration writes
// go through LoadGlobalScripts instead, which replaces both maps itself.
func (r *Runtime) Invalidate() {
	r.cache.clear()
}

// LoadGlobalScripts compiles ApateSpecs.scripts and, only if every one of
// them compiles, installs them as the global cache and drops the site
// cache. A compile failure leaves both caches exactly as they were.
func (r *Runtime) LoadGlobalScripts(defs []apatetypes.ScriptDef) error {
	return r.cache.loadGlobals(defs)
}

// EvalInlinePredicate implements matcher.ScriptEvaluator for Rhai matchers:
// compiles (or reuses) the inline script at ref and runs it with no args.
func (r *Runtime) EvalInlinePredicate(ref resourceref.Ref, source string, snap snapshot.RequestSnapshot) (bool, error) {
	prog, err := r.cache.getOrCompileSite(ref.WithSuffix("predicate"), source)
	if err != nil {
		return false, err
	}
	return r.runPredicate(prog, snap, nil)
}

// EvalNamedPredicate implements matcher.ScriptEvaluator for RhaiRef
// matchers: looks up the named top-level script and runs it with args.
func (r *Runtime) EvalNamedPredicate(id string, args []string, snap snapshot.RequestSnapshot) (bool, error) {
	prog, ok := r.cache.getGlobal(id)
	if !ok {
		return false, fmt.Errorf("unknown script id %q", id)
	}
	return r.runPredicate(prog, snap, args)
}

func (r *Runtime) runPredicate(prog *goja.Program, snap snapshot.RequestSnapshot, args []string) (bool, error) {
	vm := r.borrow()
	defer r.release(vm)

	_ = vm.Set("ctx", buildRequestCtx(vm, snap))
	_ = vm.Set("args", toArgsValue(args))

	v, err := vm.RunProgram(prog)
	if err != nil {
		return false, err
	}
	b, ok := v.Export().(bool)
	if !ok {
		// Non-boolean result: false, per the predicate return discipline.
		// Not logged as an error — it is a valid (if unusual) script.
		return false, nil
	}
	return b, nil
}

// EvalInlineOutput renders the output-type=script renderer variant: the
// script at ref runs with the response ctx in scope and must return a
// byte sequence.
func (r *Runtime) EvalInlineOutput(ref resourceref.Ref, source string, respCtx *snapshot.ResponseContext) ([]byte, error) {
	prog, err := r.cache.getOrCompileSite(ref.WithSuffix("output"), source)
	if err != nil {
		return nil, err
	}
	out, isUnit, err := r.runBody(prog, respCtx, nil, nil, false)
	if err != nil {
		return nil, err
	}
	if isUnit {
		return nil, nil
	}
	return out, nil
}

// EvalInlineProcessor implements the Script processor variant: body is
// pre-bound and a nil return (isUnit) means pass-through.
func (r *Runtime) EvalInlineProcessor(ref resourceref.Ref, source string, respCtx *snapshot.ResponseContext, body []byte) (out []byte, replaced bool, err error) {
	prog, err := r.cache.getOrCompileSite(ref.WithSuffix("processor"), source)
	if err != nil {
		return nil, false, err
	}
	out, isUnit, err := r.runBody(prog, respCtx, nil, body, true)
	if err != nil {
		return nil, false, err
	}
	return out, !isUnit, nil
}

// EvalNamedProcessor implements the ScriptRef processor variant.
func (r *Runtime) EvalNamedProcessor(id string, args []string, respCtx *snapshot.ResponseContext, body []byte) (out []byte, replaced bool, err error) {
	prog, ok := r.cache.getGlobal(id)
	if !ok {
		return nil, false, fmt.Errorf("unknown script id %q", id)
	}
	out, isUnit, err := r.runBody(prog, respCtx, args, body, true)
	if err != nil {
		return nil, false, err
	}
	return out, !isUnit, nil
}

func (r *Runtime) runBody(prog *goja.Program, respCtx *snapshot.ResponseContext, args []string, body []byte, bindBody bool) (out []byte, isUnit bool, err error) {
	vm := r.borrow()
	defer r.release(vm)

	_ = vm.Set("ctx", buildResponseCtx(vm, respCtx))
	_ = vm.Set("args", toArgsValue(args))
	if bindBody {
		_ = vm.Set("body", body)
	}

	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, false, err
	}
	return exportBodyResult(v)
}

func toArgsValue(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func exportBodyResult(v goja.Value) (out []byte, isUnit bool, err error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, true, nil
	}
	switch exported := v.Export().(type) {
	case []byte:
		return exported, false, nil
	case string:
		return []byte(exported), false, nil
	default:
		return nil, false, fmt.Errorf("script must return a byte sequence or undefined, got %T", exported)
	}
}
