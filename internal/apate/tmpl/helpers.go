package tmpl

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"math/rand"
	"text/template"

	"github.com/google/uuid"
)

// builtinFuncs mirrors the script runtime's global helpers where it makes
// sense for a template author: random_num, random_hex, uuid_v4.
// force_response_code is bound separately per-render in Render since it
// closes over the response context.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"random_num": func(args ...int64) int64 {
			switch len(args) {
			case 0:
				return rand.Int63()
			case 1:
				return rand.Int63n(args[0])
			default:
				lo, hi := args[0], args[1]
				return lo + rand.Int63n(hi-lo+1)
			}
		},
		"random_hex": func(args ...int) string {
			n := 32
			if len(args) > 0 {
				n = args[0]
			}
			buf := make([]byte, n)
			_, _ = cryptorand.Read(buf)
			return hex.EncodeToString(buf)
		},
		"uuid_v4": func() string {
			return uuid.New().String()
		},
	}
}
