package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/apate/engine/internal/apate/admin"
	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/apate/config"
	"github.com/apate/engine/internal/apate/counters"
	"github.com/apate/engine/internal/apate/engine"
	"github.com/apate/engine/internal/apate/loader"
	"github.com/apate/engine/internal/apate/metrics"
	"github.com/apate/engine/internal/apate/processor"
	"github.com/apate/engine/internal/apate/render"
	"github.com/apate/engine/internal/apate/script"
	"github.com/apate/engine/internal/apate/server"
	"github.com/apate/engine/internal/apate/storage"
	"github.com/apate/engine/internal/apate/tmpl"
	apatelogger "github.com/apate/engine/internal/common/logger"
)

const (
	defaultPort   = 8080
	adminPrefix   = "/apate"
	metricsPath   = "/apate/metrics"
	scriptPool    = 8
	envPortName   = "APATE_PORT"
	envSpecPrefix = "APATE_SPECS_FILE"
)

func main() {
	port := flag.Int("p", defaultPort, "port to listen on")
	logLevel := flag.String("l", apatelogger.LogLevelInfo, "log filter level (debug, info, warn, error)")
	flag.Parse()

	specPaths := flag.Args()

	baseLogger, err := apatelogger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	dynamicLogger, err := apatelogger.NewLoggerWithStartupOverride(apatelogger.LogConfig{
		Level:   *logLevel,
		Console: apatelogger.ConsoleLogConfig{Enabled: true, Format: apatelogger.LogFormatConsole},
	})
	if err != nil {
		baseLogger.Fatal("failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	zlog := dynamicLogger.Logger
	zlog.Info("starting apate", zap.Int("port", *port), zap.Strings("spec_files", specPaths))

	doc, err := loadInitialDocument(specPaths)
	if err != nil {
		zlog.Error("failed to load initial specification", zap.Error(err))
		os.Exit(1)
	}

	store := storage.New()
	scripts := script.New(store, scriptPool)
	templates := tmpl.New()

	cfgManager, err := config.NewManager(doc, scripts, templates)
	if err != nil {
		zlog.Error("failed to load initial configuration", zap.Error(err))
		os.Exit(1)
	}

	registry := processor.NewRegistry()
	processor.RegisterBuiltins(registry)

	metricsCollector := metrics.New(zlog)

	renderer := render.New(templates, scripts)
	renderer.Metrics = metricsCollector
	chain := processor.New(registry, scripts)
	chain.Metrics = metricsCollector

	eng := &engine.Engine{
		Config:     cfgManager,
		Scripts:    scripts,
		Renderer:   renderer,
		Processors: chain,
		Counters:   counters.New(),
		Metrics:    metricsCollector,
		Log:        zlog,
	}

	metricsCollector.AttachCounters(eng.Counters)
	adminSrv := admin.New(adminPrefix, cfgManager, metricsCollector, zlog)

	stopSampling := startProcessSampling(metricsCollector)
	defer stopSampling()

	srv := server.New(eng, adminSrv, metricsCollector, metricsCollector, adminPrefix, metricsPath, zlog)

	address := fmt.Sprintf(":%d", resolvedPort(*port))
	if err := srv.Start(address); err != nil {
		zlog.Error("failed to bind listener", zap.String("address", address), zap.Error(err))
		os.Exit(1)
	}
	dynamicLogger.SwitchToConfiguredLevel()

	waitForShutdown(srv, zlog)
}

func resolvedPort(flagPort int) int {
	if v := os.Getenv(envPortName); v != "" {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed > 0 {
			return parsed
		}
	}
	return flagPort
}

// loadInitialDocument concatenates CLI-supplied spec fragments before
// env-sourced ones, in that order, so declaration order stays authoritative
// across both sources (see loader.EnvSpecFiles for the env ordering).
func loadInitialDocument(cliPaths []string) (apatetypes.ApateSpecs, error) {
	paths := append(append([]string{}, cliPaths...), loader.EnvSpecFiles(envSpecPrefix)...)
	if len(paths) == 0 {
		return apatetypes.ApateSpecs{}, nil
	}
	return loader.LoadFragments(paths)
}

func startProcessSampling(m *metrics.Metrics) func() {
	ticker := time.NewTicker(15 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				m.SampleProcess()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func waitForShutdown(srv *server.Server, zlog *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zlog.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	zlog.Info("apate stopped")
}
