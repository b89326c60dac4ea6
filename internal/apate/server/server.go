// Package server wires the Deceit resolution engine, the admin surface
// and the metrics endpoint behind one fasthttp listener, following the
// teacher's public-server lifecycle shape (request-ID stamping, /health
// and /ready, graceful ShutdownWithContext).
package server

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/apate/engine/internal/apate/engine"
	"github.com/apate/engine/internal/apate/snapshot"
	"github.com/apate/engine/internal/common/requestid"
)

// MetricsCollector is the subset of *metrics.Metrics the server drives
// per request; declared here so this package doesn't import metrics
// directly.
type MetricsCollector interface {
	RecordRequest(status int, duration time.Duration)
	IncActiveRequests()
	DecActiveRequests()
}

// AdminHandler is the subset of *admin.Server the top-level dispatcher
// needs.
type AdminHandler interface {
	Handler(ctx *fasthttp.RequestCtx)
}

// MetricsHandler is the subset of *metrics.Metrics serving its own HTTP
// exposition endpoint.
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is the top-level public HTTP listener.
type Server struct {
	Engine      *engine.Engine
	Admin       AdminHandler
	Metrics     MetricsCollector
	MetricsPath string
	MetricsHTTP MetricsHandler
	AdminPrefix string
	Logger      *zap.Logger

	fasthttp *fasthttp.Server
	listener net.Listener
}

const serverName = "Apate/1.0"

// New builds a Server bound to its collaborators. adminPrefix and
// metricsPath must not have a trailing slash (e.g. "/apate",
// "/apate/metrics").
func New(eng *engine.Engine, adminSrv AdminHandler, m MetricsCollector, metricsHTTP MetricsHandler, adminPrefix, metricsPath string, logger *zap.Logger) *Server {
	return &Server{
		Engine:      eng,
		Admin:       adminSrv,
		Metrics:     m,
		MetricsHTTP: metricsHTTP,
		MetricsPath: metricsPath,
		AdminPrefix: adminPrefix,
		Logger:      logger,
	}
}

// Handler is the fasthttp.RequestHandler for the whole server.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	customRequestID := string(ctx.Request.Header.Peek("X-Request-ID"))
	requestID := requestid.GenerateRequestID(customRequestID)
	ctx.Response.Header.Set("X-Request-ID", requestID)

	path := string(ctx.Path())
	switch {
	case path == "/health":
		s.handleHealth(ctx)
	case path == "/ready":
		s.handleReady(ctx)
	case s.MetricsPath != "" && path == s.MetricsPath:
		s.MetricsHTTP.ServeHTTP(ctx)
	case s.AdminPrefix != "" && strings.HasPrefix(path, s.AdminPrefix):
		s.Admin.Handler(ctx)
	default:
		s.handleResolve(ctx, requestID)
	}
}

func (s *Server) handleResolve(ctx *fasthttp.RequestCtx, requestID string) {
	start := time.Now()
	s.Metrics.IncActiveRequests()
	defer s.Metrics.DecActiveRequests()

	snap := snapshotFromRequest(ctx)
	result := s.Engine.Resolve(snap)

	for _, h := range result.Headers {
		ctx.Response.Header.Set(h.Key, h.Value)
	}
	ctx.SetStatusCode(result.Status)
	ctx.SetBody(result.Body)

	s.Metrics.RecordRequest(result.Status, time.Since(start))
	s.Logger.Debug("request resolved",
		zap.String("request_id", requestID),
		zap.String("path", string(ctx.Path())),
		zap.Int("status", result.Status))
}

func snapshotFromRequest(ctx *fasthttp.RequestCtx) snapshot.RequestSnapshot {
	var headerPairs [][2]string
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		headerPairs = append(headerPairs, [2]string{string(key), string(value)})
	})

	queryArgs := make(map[string]string)
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		queryArgs[string(key)] = string(value)
	})

	body := make([]byte, len(ctx.PostBody()))
	copy(body, ctx.PostBody())

	return snapshot.New(string(ctx.Method()), string(ctx.Path()), headerPairs, queryArgs, body)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("OK")
}

// handleReady always reports ready: the resolution engine has no external
// dependency to probe, unlike the teacher's Redis/service-registry checks.
func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("OK")
}

// Start binds address and serves until Shutdown is called. It returns
// once the listener is bound; serving happens in a background goroutine,
// with any terminal error logged.
func (s *Server) Start(address string) error {
	s.fasthttp = &fasthttp.Server{
		Handler:               s.Handler,
		Name:                  serverName,
		NoDefaultServerHeader: true,
		NoDefaultDate:         true,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.fasthttp.Serve(listener); err != nil {
			s.Logger.Error("server stopped serving", zap.Error(err))
		}
	}()

	s.Logger.Info("apate server started", zap.String("address", s.Address()))
	return nil
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Shutdown gracefully drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.fasthttp == nil {
		return nil
	}
	s.Logger.Info("shutting down apate server")
	return s.fasthttp.ShutdownWithContext(ctx)
}
