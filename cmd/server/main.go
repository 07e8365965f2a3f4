package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/internal/app"
	"github.com/sirosfoundation/go-voice-backend/internal/handler"
	"github.com/sirosfoundation/go-voice-backend/internal/server"
	"github.com/sirosfoundation/go-voice-backend/pkg/config"
	"github.com/sirosfoundation/go-voice-backend/pkg/logging"
)

var (
	configFile  = flag.String("conf", "", "Path to configuration file (.toml, .yaml); defaults are used when empty")
	showVersion = flag.Bool("version", false, "Print version and exit")
	dumpConfig  = flag.Bool("dump-config", false, "Print the effective configuration as TOML and exit")
	version     = "dev"
	buildTime   = "unknown"
)

// shutdownGrace bounds the wait for background tasks after the server stops
const shutdownGrace = 10 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("voice-server %s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *dumpConfig {
		out, err := cfg.Marshal()
		if err != nil {
			log.Fatalf("Failed to encode configuration: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.File = cfg.LogFile
	if logCfg.Level != "debug" {
		logCfg.Format = "json"
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting voice server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("log_level", logging.LevelString(logging.ParseLevel(cfg.LogLevel))),
	)

	server.SetMode(cfg.LogLevel)

	token := app.NewCancelToken()
	state := app.NewBuilder().
		WithConfig(cfg).
		WithCancelToken(token).
		WithLogger(logger).
		Build()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down server...")
			token.Cancel()
		case <-token.Done():
		}
	}()

	runErr := app.Run(state, handler.New)

	if !state.WaitTasks(shutdownGrace) {
		logger.Warn("Background tasks did not stop in time")
	}

	if runErr != nil {
		var bindErr *app.BindError
		if errors.As(runErr, &bindErr) {
			logger.Error("Failed to bind", zap.String("address", bindErr.Addr), zap.Error(bindErr.Err))
		} else {
			logger.Error("Server failed", zap.Error(runErr))
		}
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("Server exited")
}
