package script

import (
	"github.com/dop251/goja"

	"github.com/apate/engine/internal/apate/snapshot"
)

// buildRequestCtx builds the ctx object seen by predicate scripts: a plain
// object with data properties for method/path and loader functions for
// the request's multi-valued facets, mirroring the §4.3 ctx surface.
func buildRequestCtx(vm *goja.Runtime, snap snapshot.RequestSnapshot) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("method", snap.Method)
	_ = obj.Set("path", snap.Path)
	_ = obj.Set("load_headers", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(snap.Headers.Lower())
	})
	_ = obj.Set("load_query_args", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(snap.QueryArgs)
	})
	_ = obj.Set("load_path_args", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(snap.PathArgs)
	})
	_ = obj.Set("load_body", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(snap.Body)
	})
	return obj
}

// buildResponseCtx extends the request ctx with the response-only
// surface: a read/write response_code accessor and inc_counter, backed by
// the per-request ResponseContext cell.
func buildResponseCtx(vm *goja.Runtime, respCtx *snapshot.ResponseContext) *goja.Object {
	obj := buildRequestCtx(vm, respCtx.Request)

	getter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(int64(respCtx.OverrideStatus()))
	})
	setter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			respCtx.SetOverrideStatus(uint16(call.Argument(0).ToInteger()))
		}
		return goja.Undefined()
	})
	if err := obj.DefineAccessorProperty("response_code", getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		panic(err)
	}

	_ = obj.Set("inc_counter", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		return vm.ToValue(respCtx.IncCounter(key))
	})
	return obj
}
