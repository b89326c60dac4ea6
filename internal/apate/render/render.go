// Package render implements the output renderer: given an output-type tag
// and a source payload, produces the response body bytes.
package render

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/resourceref"
	"github.com/apate/engine/internal/apate/snapshot"
)

// TemplateRenderer renders output_type=template payloads.
type TemplateRenderer interface {
	Render(src string, respCtx *snapshot.ResponseContext) ([]byte, error)
}

// ScriptRenderer renders output_type=script payloads.
type ScriptRenderer interface {
	EvalInlineOutput(ref resourceref.Ref, source string, respCtx *snapshot.ResponseContext) ([]byte, error)
}

// ScriptErrorRecorder observes script runtime failures during
// output-type=script rendering. May be nil.
type ScriptErrorRecorder interface {
	RecordScriptError(stage string)
}

// Renderer dispatches on OutputType to produce response bytes.
type Renderer struct {
	Templates TemplateRenderer
	Scripts   ScriptRenderer
	Metrics   ScriptErrorRecorder
}

// New builds a Renderer backed by the given template and script engines.
func New(templates TemplateRenderer, scripts ScriptRenderer) *Renderer {
	return &Renderer{Templates: templates, Scripts: scripts}
}

// Render produces response bytes for output, keyed by ref for the script
// variant's compiled-artifact cache.
func (r *Renderer) Render(outputType apatetypes.OutputType, output string, respCtx *snapshot.ResponseContext, ref resourceref.Ref) ([]byte, error) {
	switch outputType {
	case "", apatetypes.OutputString:
		return []byte(output), nil
	case apatetypes.OutputTemplate:
		out, err := r.Templates.Render(output, respCtx)
		if err != nil {
			return nil, fmt.Errorf("template render: %w", err)
		}
		return out, nil
	case apatetypes.OutputScript:
		out, err := r.Scripts.EvalInlineOutput(ref, output, respCtx)
		if err != nil {
			if r.Metrics != nil {
				r.Metrics.RecordScriptError("render")
			}
			return nil, fmt.Errorf("script render: %w", err)
		}
		return out, nil
	case apatetypes.OutputHex:
		return decodeHex(output)
	case apatetypes.OutputBase64:
		return decodeBase64(output)
	default:
		return nil, fmt.Errorf("unknown output type %q", outputType)
	}
}

func decodeHex(payload string) ([]byte, error) {
	trimmed := strings.TrimSpace(payload)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimSpace(trimmed)
	out, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("hex decode: %w", err)
	}
	return out, nil
}

func decodeBase64(payload string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return out, nil
}
