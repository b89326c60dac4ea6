// Package admin implements the reserved admin path prefix exposing
// read/replace/append/prepend operations over the live configuration
// document, grounded in the teacher's internal control-plane server but
// without its inter-service auth header — the spec names no admin auth
// requirement.
package admin

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/common/httputil"
	"github.com/apate/engine/internal/common/yamlutil"
	"gopkg.in/yaml.v3"
)

// Version is the reported build version. Overridable at link time via
// -ldflags, following the teacher's PKG_VERSION convention.
var Version = "dev"

// ConfigManager is the subset of config.Manager the admin surface needs.
type ConfigManager interface {
	Current() apatetypes.ApateSpecs
	Replace(doc apatetypes.ApateSpecs) error
	Append(doc apatetypes.ApateSpecs) error
	Prepend(doc apatetypes.ApateSpecs) error
}

// MetricsRecorder is the subset of *metrics.Metrics the admin surface
// reports writes to; declared locally so this package never imports
// metrics directly.
type MetricsRecorder interface {
	RecordAdminWrite(operation string)
}

// Server serves the admin endpoints under a configurable path prefix.
type Server struct {
	Prefix  string
	Config  ConfigManager
	Metrics MetricsRecorder
	Log     *zap.Logger

	startTime time.Time
}

// New builds an admin Server. prefix must not have a trailing slash
// (default "/apate"). metrics may be nil; writes simply go unrecorded.
func New(prefix string, cfg ConfigManager, metrics MetricsRecorder, log *zap.Logger) *Server {
	return &Server{Prefix: prefix, Config: cfg, Metrics: metrics, Log: log, startTime: time.Now()}
}

type infoPayload struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Handler dispatches admin requests by method and suffix path (the part
// of the request path after Prefix). Callers are expected to route any
// request whose path has Prefix as a prefix here.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	suffix := string(ctx.Path())[len(s.Prefix):]
	method := string(ctx.Method())

	switch {
	case method == fasthttp.MethodGet && suffix == "/info":
		s.handleInfo(ctx)
	case method == fasthttp.MethodGet && suffix == "/specs":
		s.handleSpecsGet(ctx)
	case method == fasthttp.MethodPost && suffix == "/specs/replace":
		s.handleSpecsWrite(ctx, "replace", s.Config.Replace, "Specification replaced")
	case method == fasthttp.MethodPost && suffix == "/specs/append":
		s.handleSpecsWrite(ctx, "append", s.Config.Append, "New specification appended to the existing one")
	case method == fasthttp.MethodPost && suffix == "/specs/prepend":
		s.handleSpecsWrite(ctx, "prepend", s.Config.Prepend, "New specification prepended to the existing one")
	default:
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) handleInfo(ctx *fasthttp.RequestCtx) {
	body, err := json.Marshal(infoPayload{
		Name:          "Apate API mocking server",
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(fmt.Sprintf("serialize info: %v", err))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// handleSpecsGet serves the live document as JSON by default, or as YAML
// when the caller's Accept header asks for it — an operator convenience
// on top of spec.md §6's JSON wire contract, which remains canonical.
func (s *Server) handleSpecsGet(ctx *fasthttp.RequestCtx) {
	specs := s.Config.Current()

	if wantsYAML(string(ctx.Request.Header.Peek("Accept"))) {
		body, err := yaml.Marshal(specs)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString(fmt.Sprintf("serialize specs: %v", err))
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/x-yaml")
		ctx.SetBody(body)
		return
	}

	body, err := apatetypes.EncodeJSONCompact(specs)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(fmt.Sprintf("serialize specs: %v", err))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func wantsYAML(accept string) bool {
	return strings.Contains(accept, "yaml")
}

func (s *Server) handleSpecsWrite(ctx *fasthttp.RequestCtx, operation string, apply func(apatetypes.ApateSpecs) error, okMessage string) {
	doc, err := parseBody(ctx.PostBody())
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(fmt.Sprintf("failed to parse specification from request body: %v", err))
		return
	}

	if err := apply(doc); err != nil {
		s.Log.Error("admin write failed", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())
		return
	}

	if s.Metrics != nil {
		s.Metrics.RecordAdminWrite(operation)
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(okMessage)
}

// parseBody accepts either encoding: JSON is tried first (the canonical
// wire format per spec.md §6), falling back to YAML so operators can post
// hand-edited fragments without a conversion step.
func parseBody(body []byte) (apatetypes.ApateSpecs, error) {
	var doc apatetypes.ApateSpecs
	jsonErr := json.Unmarshal(body, &doc)
	if jsonErr == nil {
		return doc, nil
	}
	if yamlErr := yamlutil.UnmarshalStrict(body, &doc); yamlErr == nil {
		return doc, nil
	}
	return apatetypes.ApateSpecs{}, jsonErr
}
