// Package processor implements the ordered body-transformer chain run
// after output rendering: host-registered native callbacks ("Embedded")
// and inline/named scripts.
package processor

import (
	"fmt"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/resourceref"
	"github.com/apate/engine/internal/apate/snapshot"
)

// EmbeddedFunc is a host-registered native processor callback.
type EmbeddedFunc func(args []string, respCtx *snapshot.ResponseContext, body []byte) ([]byte, error)

// Registry holds embedded processor callbacks by id. Per §5's resource
// model, registration happens only at server init; Registry carries no
// lock because it is never written to after Serve begins.
type Registry struct {
	funcs map[string]EmbeddedFunc
}

// NewRegistry returns an empty embedded processor registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]EmbeddedFunc)}
}

// Register installs fn under id, overwriting any previous registration.
func (r *Registry) Register(id string, fn EmbeddedFunc) {
	r.funcs[id] = fn
}

// Lookup returns the callback registered under id, if any.
func (r *Registry) Lookup(id string) (EmbeddedFunc, bool) {
	fn, ok := r.funcs[id]
	return fn, ok
}

// ScriptRunner is the seam into the script runtime's processor-script
// evaluation, kept as an interface so this package never imports script
// directly.
type ScriptRunner interface {
	EvalInlineProcessor(ref resourceref.Ref, source string, respCtx *snapshot.ResponseContext, body []byte) (out []byte, replaced bool, err error)
	EvalNamedProcessor(id string, args []string, respCtx *snapshot.ResponseContext, body []byte) (out []byte, replaced bool, err error)
}

// ScriptErrorRecorder observes script runtime failures during processor
// script evaluation. May be nil.
type ScriptErrorRecorder interface {
	RecordScriptError(stage string)
}

// Chain runs an ordered list of Processors against a body.
type Chain struct {
	Registry *Registry
	Scripts  ScriptRunner
	Metrics  ScriptErrorRecorder
}

// New builds a Chain backed by the given embedded registry and script
// runner.
func New(registry *Registry, scripts ScriptRunner) *Chain {
	return &Chain{Registry: registry, Scripts: scripts}
}

// Run threads body through processors in declared order: each processor's
// input is the previous one's output (or body, for the first). ref is the
// resource-ref prefix for this processor list (e.g. the owning Deceit or
// DeceitResponse), extended per-processor by index for the script cache
// key.
func (c *Chain) Run(processors []apatetypes.Processor, respCtx *snapshot.ResponseContext, body []byte, ref resourceref.Ref) ([]byte, error) {
	current := body
	for i, p := range processors {
		procRef := ref.Child(i)
		switch p.Type {
		case apatetypes.ProcessorEmbedded:
			fn, ok := c.Registry.Lookup(p.ID)
			if !ok {
				return nil, fmt.Errorf("unknown embedded processor %q", p.ID)
			}
			out, err := fn(p.Args, respCtx, current)
			if err != nil {
				return nil, fmt.Errorf("embedded processor %q: %w", p.ID, err)
			}
			current = out

		case apatetypes.ProcessorScript:
			out, replaced, err := c.Scripts.EvalInlineProcessor(procRef, p.Source, respCtx, current)
			if err != nil {
				if c.Metrics != nil {
					c.Metrics.RecordScriptError("processor")
				}
				return nil, fmt.Errorf("processor script: %w", err)
			}
			if replaced {
				current = out
			}

		case apatetypes.ProcessorScriptRef:
			out, replaced, err := c.Scripts.EvalNamedProcessor(p.ID, p.Args, respCtx, current)
			if err != nil {
				if c.Metrics != nil {
					c.Metrics.RecordScriptError("processor")
				}
				return nil, fmt.Errorf("processor script ref %q: %w", p.ID, err)
			}
			if replaced {
				current = out
			}

		default:
			return nil, fmt.Errorf("unknown processor type %q", p.Type)
		}
	}
	return current, nil
}
