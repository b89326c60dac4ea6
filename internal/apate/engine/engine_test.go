package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/config"
	"github.com/apate/engine/internal/apate/counters"
	"github.com/apate/engine/internal/apate/processor"
	"github.com/apate/engine/internal/apate/render"
	"github.com/apate/engine/internal/apate/script"
	"github.com/apate/engine/internal/apate/snapshot"
	"github.com/apate/engine/internal/apate/storage"
	"github.com/apate/engine/internal/apate/tmpl"
)

// harness builds a fully wired Engine against real (non-stub) collaborator
// packages, the way the production wiring in cmd/apate does.
type harness struct {
	engine *Engine
	cfg    *config.Manager
}

func newHarness(t *testing.T, doc apatetypes.ApateSpecs) *harness {
	t.Helper()
	scripts := script.New(storage.New(), 4)
	templates := tmpl.New()
	cfg, err := config.NewManager(doc, scripts, templates)
	require.NoError(t, err)

	registry := processor.NewRegistry()
	processor.RegisterBuiltins(registry)

	return &harness{
		cfg: cfg,
		engine: &Engine{
			Config:     cfg,
			Scripts:    scripts,
			Renderer:   render.New(templates, scripts),
			Processors: processor.New(registry, scripts),
			Counters:   counters.New(),
			Log:        zap.NewNop(),
		},
	}
}

type fakeMetrics struct {
	renderCalls    int
	processorCalls int
	scriptErrors   []string
}

func (f *fakeMetrics) RecordRenderDuration(string, time.Duration)    { f.renderCalls++ }
func (f *fakeMetrics) RecordProcessorDuration(string, time.Duration) { f.processorCalls++ }
func (f *fakeMetrics) RecordScriptError(stage string)                { f.scriptErrors = append(f.scriptErrors, stage) }

func req(method, path string, query map[string]string) snapshot.RequestSnapshot {
	return snapshot.New(method, path, nil, query, nil)
}

func code(c uint16) *uint16 { return &c }

// Scenario 1: simple echo.
func TestSimpleEcho(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs:     []string{"/user/check"},
			Matchers: []apatetypes.Matcher{{Type: apatetypes.MatcherMethod, Eq: "POST"}},
			Responses: []apatetypes.DeceitResponse{{
				Code:    code(200),
				Headers: []apatetypes.HeaderPair{{Key: "Content-Type", Value: "application/json"}},
				Type:    apatetypes.OutputString,
				Output:  `{"message":"Success"}`,
			}},
		}},
	}
	h := newHarness(t, doc)

	res := h.engine.Resolve(req("POST", "/user/check", nil))
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, `{"message":"Success"}`, string(res.Body))
	require.Len(t, res.Headers, 1)
	assert.Equal(t, apatetypes.HeaderPair{Key: "Content-Type", Value: "application/json"}, res.Headers[0])

	notFound := h.engine.Resolve(req("GET", "/user/check", nil))
	assert.Equal(t, 404, notFound.Status)
}

// Scenario 2: path capture via template.
func TestPathCaptureViaTemplate(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs: []string{"/user/{id}"},
			Responses: []apatetypes.DeceitResponse{{
				Headers: []apatetypes.HeaderPair{{Key: "Content-Type", Value: "application/json"}},
				Type:    apatetypes.OutputTemplate,
				Output:  `{"id":"{{.Ctx.LoadPathArgs.id}}","name":"Ignat"}`,
			}},
		}},
	}
	h := newHarness(t, doc)

	res := h.engine.Resolve(req("GET", "/user/1133", nil))
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, `{"id":"1133","name":"Ignat"}`, string(res.Body))
}

// Scenario 3: script matcher.
func TestScriptMatcher(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs: []string{"/matcher"},
			Matchers: []apatetypes.Matcher{{
				Type:   apatetypes.MatcherRhai,
				Script: `ctx.load_query_args().library === "Apate"`,
			}},
			Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputString, Output: "ok"}},
		}},
	}
	h := newHarness(t, doc)

	miss := h.engine.Resolve(req("POST", "/matcher", map[string]string{"library": "Postman"}))
	assert.Equal(t, 404, miss.Status)

	hit := h.engine.Resolve(req("POST", "/matcher", map[string]string{"library": "Apate"}))
	assert.Equal(t, 200, hit.Status)
}

// Scenario 4: processor chain mutates body, and is invoked exactly once per
// request (observable via a counter-incrementing script processor).
func TestProcessorChainMutatesBody(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs: []string{"/echo"},
			Responses: []apatetypes.DeceitResponse{{
				Code:   code(200),
				Type:   apatetypes.OutputString,
				Output: "simple",
				Processors: []apatetypes.Processor{
					{Type: apatetypes.ProcessorEmbedded, ID: "append", Args: []string{"_TAIL"}},
					{Type: apatetypes.ProcessorScript, Source: `ctx.inc_counter("calls"); undefined`},
				},
			}},
		}},
	}
	h := newHarness(t, doc)

	first := h.engine.Resolve(req("GET", "/echo", nil))
	assert.Equal(t, "simple_TAIL", string(first.Body))
	assert.Equal(t, uint64(1), h.engine.Counters.Get("calls"))

	second := h.engine.Resolve(req("GET", "/echo", nil))
	assert.Equal(t, "simple_TAIL", string(second.Body))
	assert.Equal(t, uint64(2), h.engine.Counters.Get("calls"))
}

// Scenario 5: override status from template wins over the 200 default when
// no explicit code is set.
func TestOverrideStatusFromTemplate(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs: []string{"/created"},
			Responses: []apatetypes.DeceitResponse{{
				Type:   apatetypes.OutputTemplate,
				Output: `{{force_response_code 201}}done`,
			}},
		}},
	}
	h := newHarness(t, doc)

	res := h.engine.Resolve(req("GET", "/created", nil))
	assert.Equal(t, 201, res.Status)
	assert.Equal(t, "done", string(res.Body))
}

// Scenario 6: hot-swap. A request snapshot loaded via Config.Current()
// before the swap keeps resolving against the old document; subsequent
// calls see only the new one.
func TestHotSwap(t *testing.T) {
	a := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs:      []string{"/a"},
			Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputString, Output: "a"}},
		}},
	}
	h := newHarness(t, a)

	preSwap := h.cfg.Current()
	assert.Len(t, preSwap.Deceit, 1)
	assert.Equal(t, "/a", preSwap.Deceit[0].URIs[0])

	b := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs:      []string{"/b"},
			Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputString, Output: "b"}},
		}},
	}
	require.NoError(t, h.cfg.Replace(b))

	// The value captured before the swap is unaffected by the later write.
	assert.Equal(t, "/a", preSwap.Deceit[0].URIs[0])

	afterA := h.engine.Resolve(req("GET", "/a", nil))
	assert.Equal(t, 404, afterA.Status)

	afterB := h.engine.Resolve(req("GET", "/b", nil))
	assert.Equal(t, 200, afterB.Status)
	assert.Equal(t, "b", string(afterB.Body))
}

// Fallthrough: a Deceit whose URI matches but whose every response fails
// to select advances to the next Deceit rather than 404ing
// within the same Deceit.
func TestFallthroughAcrossDeceits(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{
			{
				URIs: []string{"/shared"},
				Responses: []apatetypes.DeceitResponse{{
					Matchers: []apatetypes.Matcher{{Type: apatetypes.MatcherHeader, Key: "X-Flag", Value: "on"}},
					Code:     code(200),
					Type:     apatetypes.OutputString,
					Output:   "first",
				}},
			},
			{
				URIs:      []string{"/shared"},
				Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputString, Output: "second"}},
			},
		},
	}
	h := newHarness(t, doc)

	res := h.engine.Resolve(req("GET", "/shared", nil))
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "second", string(res.Body))
}

// Header composition: Deceit-level headers precede response-level ones.
func TestHeaderComposition(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs:    []string{"/h"},
			Headers: []apatetypes.HeaderPair{{Key: "X-Deceit", Value: "1"}},
			Responses: []apatetypes.DeceitResponse{{
				Code:    code(200),
				Headers: []apatetypes.HeaderPair{{Key: "X-Response", Value: "2"}},
				Type:    apatetypes.OutputString,
				Output:  "ok",
			}},
		}},
	}
	h := newHarness(t, doc)

	res := h.engine.Resolve(req("GET", "/h", nil))
	require.Len(t, res.Headers, 2)
	assert.Equal(t, "X-Deceit", res.Headers[0].Key)
	assert.Equal(t, "X-Response", res.Headers[1].Key)
}

// Codec round-trip: hex and base64 outputs decode to the exact bytes
// supplied.
func TestCodecRoundTrip(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{
			{
				URIs:      []string{"/hex"},
				Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputHex, Output: "0x68656c6c6f"}},
			},
			{
				URIs:      []string{"/b64"},
				Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputBase64, Output: "aGVsbG8="}},
			},
		},
	}
	h := newHarness(t, doc)

	hexRes := h.engine.Resolve(req("GET", "/hex", nil))
	assert.Equal(t, "hello", string(hexRes.Body))

	b64Res := h.engine.Resolve(req("GET", "/b64", nil))
	assert.Equal(t, "hello", string(b64Res.Body))
}

// No Deceit matches at all: 404 with diagnostic text naming the path.
func TestNoMatchIs404WithDiagnostic(t *testing.T) {
	h := newHarness(t, apatetypes.ApateSpecs{})
	res := h.engine.Resolve(req("GET", "/nowhere", nil))
	assert.Equal(t, 404, res.Status)
	assert.Contains(t, string(res.Body), "/nowhere")
}

// Render and processor-chain latency are recorded on every resolved
// request, and a matcher script and a processor script that both succeed
// record no script error.
func TestMetricsRecordedAcrossPipelineStages(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs: []string{"/metered"},
			Matchers: []apatetypes.Matcher{{
				Type:   apatetypes.MatcherRhai,
				Script: `true`,
			}},
			Responses: []apatetypes.DeceitResponse{{
				Code:   code(200),
				Type:   apatetypes.OutputString,
				Output: "ok",
				Processors: []apatetypes.Processor{
					{Type: apatetypes.ProcessorScript, Source: `undefined`},
				},
			}},
		}},
	}
	h := newHarness(t, doc)
	fm := &fakeMetrics{}
	h.engine.Metrics = fm

	res := h.engine.Resolve(req("GET", "/metered", nil))
	require.Equal(t, 200, res.Status)
	assert.Equal(t, 1, fm.renderCalls)
	assert.Equal(t, 1, fm.processorCalls)
	assert.Empty(t, fm.scriptErrors)
}

// A failing matcher script is recorded at the "matcher" stage and the
// engine falls through to no match, per the matcher soft-failure policy.
func TestMetricsRecordsMatcherScriptError(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs: []string{"/bad-matcher"},
			Matchers: []apatetypes.Matcher{{
				Type:   apatetypes.MatcherRhai,
				Script: `this is not valid javascript (`,
			}},
			Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputString, Output: "ok"}},
		}},
	}
	h := newHarness(t, doc)
	fm := &fakeMetrics{}
	h.engine.Metrics = fm

	res := h.engine.Resolve(req("GET", "/bad-matcher", nil))
	assert.Equal(t, 404, res.Status)
	assert.Equal(t, []string{"matcher"}, fm.scriptErrors)
}

// A fatal render error produces a 500 without falling through to a later
// Deceit, per commit-on-select.
func TestRenderErrorIsFatal(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{
			{
				URIs:      []string{"/bad"},
				Responses: []apatetypes.DeceitResponse{{Type: apatetypes.OutputHex, Output: "not-hex!"}},
			},
			{
				URIs:      []string{"/bad"},
				Responses: []apatetypes.DeceitResponse{{Code: code(200), Type: apatetypes.OutputString, Output: "never"}},
			},
		},
	}
	h := newHarness(t, doc)

	res := h.engine.Resolve(req("GET", "/bad", nil))
	assert.Equal(t, 500, res.Status)
	assert.NotEqual(t, "never", string(res.Body))
}

// A Deceit with json_request set parses the body up front: a malformed
// body fails the request before any matcher runs, rather than lazily the
// first time a Json matcher touches it.
func TestJSONRequestEagerlyParsesBody(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs:        []string{"/submit"},
			JSONRequest: true,
			Responses:   []apatetypes.DeceitResponse{{Type: apatetypes.OutputString, Output: "ok"}},
		}},
	}
	h := newHarness(t, doc)

	good := snapshot.New("POST", "/submit", nil, nil, []byte(`{"a":1}`))
	res := h.engine.Resolve(good)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "ok", string(res.Body))

	bad := snapshot.New("POST", "/submit", nil, nil, []byte(`not json`))
	res = h.engine.Resolve(bad)
	assert.Equal(t, 500, res.Status)
}

// Deceits that don't set json_request never eagerly parse, so a malformed
// body alone does not fail the request when no Json matcher inspects it.
func TestJSONRequestDefaultStaysLazy(t *testing.T) {
	doc := apatetypes.ApateSpecs{
		Deceit: []apatetypes.Deceit{{
			URIs:      []string{"/submit"},
			Responses: []apatetypes.DeceitResponse{{Type: apatetypes.OutputString, Output: "ok"}},
		}},
	}
	h := newHarness(t, doc)

	bad := snapshot.New("POST", "/submit", nil, nil, []byte(`not json`))
	res := h.engine.Resolve(bad)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "ok", string(res.Body))
}
