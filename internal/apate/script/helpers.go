package script

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math/rand"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/apate/engine/internal/apate/storage"
)

// installGlobals binds the script helpers shared by all scripts run on vm:
// random_num, random_hex, uuid_v4, to_json_blob/from_json_blob and
// storage_read/storage_write against the process-wide storage table.
func installGlobals(vm *goja.Runtime, store *storage.Store) {
	_ = vm.Set("random_num", func(call goja.FunctionCall) goja.Value {
		switch len(call.Arguments) {
		case 0:
			return vm.ToValue(rand.Float64())
		case 1:
			max := call.Argument(0).ToInteger()
			return vm.ToValue(rand.Int63n(max))
		default:
			lo := call.Argument(0).ToInteger()
			hi := call.Argument(1).ToInteger()
			return vm.ToValue(lo + rand.Int63n(hi-lo+1))
		}
	})

	_ = vm.Set("random_hex", func(call goja.FunctionCall) goja.Value {
		n := 32
		if len(call.Arguments) > 0 {
			n = int(call.Argument(0).ToInteger())
		}
		buf := make([]byte, n)
		_, _ = cryptorand.Read(buf)
		return vm.ToValue(hex.EncodeToString(buf))
	})

	_ = vm.Set("uuid_v4", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(uuid.New().String())
	})

	_ = vm.Set("to_json_blob", func(call goja.FunctionCall) goja.Value {
		raw, err := json.Marshal(call.Argument(0).Export())
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(raw)
	})

	_ = vm.Set("from_json_blob", func(call goja.FunctionCall) goja.Value {
		var raw []byte
		switch v := call.Argument(0).Export().(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			panic(vm.ToValue("from_json_blob: expected a byte sequence or string"))
		}
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(parsed)
	})

	_ = vm.Set("bytes_to_string", func(call goja.FunctionCall) goja.Value {
		switch v := call.Argument(0).Export().(type) {
		case []byte:
			return vm.ToValue(string(v))
		case string:
			return vm.ToValue(v)
		default:
			return vm.ToValue("")
		}
	})

	_ = vm.Set("string_to_bytes", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue([]byte(call.Argument(0).String()))
	})

	_ = vm.Set("storage_read", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		v, err := store.Read(key)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(v)
	})

	_ = vm.Set("storage_write", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := store.Write(key, call.Argument(1).Export()); err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return goja.Undefined()
	})
}
