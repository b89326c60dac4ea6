// Package engine implements the Deceit resolution engine: the pipeline
// that takes a request snapshot and a configuration snapshot and produces
// exactly one HTTP response (or a 404).
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/config"
	"github.com/apate/engine/internal/apate/counters"
	"github.com/apate/engine/internal/apate/matcher"
	"github.com/apate/engine/internal/apate/processor"
	"github.com/apate/engine/internal/apate/render"
	"github.com/apate/engine/internal/apate/resourceref"
	"github.com/apate/engine/internal/apate/snapshot"
	"github.com/apate/engine/internal/apate/urlpattern"
)

// Result is the complete synthesized HTTP response.
type Result struct {
	Status  int
	Headers []apatetypes.HeaderPair
	Body    []byte
}

// MetricsRecorder is the engine's metrics seam: render/processor latency
// histograms and the matcher/render/processor script-error counter. May be
// nil, in which case Resolve runs unmetered.
type MetricsRecorder interface {
	RecordRenderDuration(outputType string, duration time.Duration)
	RecordProcessorDuration(deceitRef string, duration time.Duration)
	RecordScriptError(stage string)
}

// Engine wires the matcher, render and processor stages against a live
// configuration document.
type Engine struct {
	Config     *config.Manager
	Scripts    matcher.ScriptEvaluator
	Renderer   *render.Renderer
	Processors *processor.Chain
	Counters   *counters.Store
	Metrics    MetricsRecorder
	Log        *zap.Logger
}

// Resolve runs the full §4.1 algorithm against snap: scan Deceit entries
// in declared order, URL-pattern-match, evaluate matcher trees, select and
// render a response, run the processor chain. Matching failures fall
// through to the next Deceit; once a response is selected, render or
// processor failures are fatal for the request (no further fallthrough).
func (e *Engine) Resolve(snap snapshot.RequestSnapshot) Result {
	doc := e.Config.Current()

	for d, deceit := range doc.Deceit {
		pathArgs, ok := matchURIs(deceit.URIs, snap.Path)
		if !ok {
			continue
		}
		withArgs := snap.WithPathArgs(pathArgs)
		deceitRef := resourceref.Ref{d}

		if deceit.JSONRequest && len(withArgs.Body) > 0 {
			if _, err := withArgs.JSON(); err != nil {
				return fatal("json_request", err)
			}
		}

		if !e.evaluateAll(deceit.Matchers, deceitRef, withArgs) {
			continue
		}

		respIdx, resp, found := e.selectResponse(deceit.Responses, deceitRef, withArgs)
		if !found {
			continue
		}

		respRef := resourceref.Ref{d, respIdx}
		respCtx := snapshot.NewResponseContext(withArgs, e.Counters)

		renderStart := time.Now()
		out, err := e.Renderer.Render(resp.Type, resp.Output, respCtx, respRef)
		if e.Metrics != nil {
			e.Metrics.RecordRenderDuration(string(resp.Type), time.Since(renderStart))
		}
		if err != nil {
			return fatal("render", err)
		}

		chain := make([]apatetypes.Processor, 0, len(deceit.Processors)+len(resp.Processors))
		chain = append(chain, deceit.Processors...)
		chain = append(chain, resp.Processors...)

		processorStart := time.Now()
		body, err := e.Processors.Run(chain, respCtx, out, respRef)
		if e.Metrics != nil {
			e.Metrics.RecordProcessorDuration(deceitRef.Key(), time.Since(processorStart))
		}
		if err != nil {
			return fatal("processor", err)
		}

		status := respCtx.OverrideStatus()
		if status == 0 {
			if resp.Code != nil {
				status = *resp.Code
			} else {
				status = 200
			}
		}

		headers := make([]apatetypes.HeaderPair, 0, len(deceit.Headers)+len(resp.Headers))
		headers = append(headers, deceit.Headers...)
		headers = append(headers, resp.Headers...)

		return Result{Status: int(status), Headers: headers, Body: body}
	}

	return Result{
		Status: 404,
		Body:   []byte(fmt.Sprintf("no deceit matched path %q", snap.Path)),
	}
}

// selectResponse evaluates each DeceitResponse's matcher list in declared
// order; an empty list selects immediately.
func (e *Engine) selectResponse(responses []apatetypes.DeceitResponse, deceitRef resourceref.Ref, snap snapshot.RequestSnapshot) (int, apatetypes.DeceitResponse, bool) {
	for r, resp := range responses {
		if len(resp.Matchers) == 0 {
			return r, resp, true
		}
		if e.evaluateAll(resp.Matchers, deceitRef.Child(r), snap) {
			return r, resp, true
		}
	}
	return 0, apatetypes.DeceitResponse{}, false
}

// evaluateAll implements the implicit AND across entries in a
// Deceit-level or response-level matcher list.
func (e *Engine) evaluateAll(list []apatetypes.Matcher, ref resourceref.Ref, snap snapshot.RequestSnapshot) bool {
	for i, m := range list {
		if matcher.Depth(m) > matcher.MaxDepth {
			e.Log.Warn("matcher tree exceeds max depth, treating as false", zap.String("ref", ref.Key()))
			return false
		}
		if !matcher.Evaluate(m, ref.Child(i), snap, e.Scripts, e.Metrics, e.Log) {
			return false
		}
	}
	return true
}

// matchURIs tries each URI pattern in declared order; the first that
// fully consumes path wins.
func matchURIs(uris []string, path string) (map[string]string, bool) {
	for _, u := range uris {
		pattern, err := urlpattern.Compile(u)
		if err != nil {
			continue
		}
		if args, ok := pattern.Match(path); ok {
			return args, true
		}
	}
	return nil, false
}

func fatal(stage string, err error) Result {
	return Result{
		Status: 500,
		Body:   []byte(fmt.Sprintf("%s failed: %v", stage, err)),
	}
}
