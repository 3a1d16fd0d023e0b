package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/config"
	"github.com/copyleftdev/gleaner/internal/logging"
	"github.com/copyleftdev/gleaner/internal/runner"
	"github.com/copyleftdev/gleaner/internal/server"
	"github.com/copyleftdev/gleaner/internal/sink"
	"github.com/copyleftdev/gleaner/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	loop := flag.Bool("loop", false, "Run continuously on a schedule instead of once")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		reportStartupFailure(err)
		os.Exit(runner.ExitRunFailure)
	}
	if *loop {
		cfg.Schedule.Loop = true
	}

	logger := logging.New(cfg.Log)
	defer logger.Sync()

	r, err := runner.New(cfg, logger)
	if err != nil {
		logger.Error("invalid target configuration", zap.Error(err))
		reportStartupFailure(err)
		logger.Sync()
		os.Exit(runner.ExitRunFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	if cfg.Schedule.Loop {
		code = runLoop(ctx, cfg, r, logger)
	} else {
		_, code = r.Run(ctx)
		logger.Info("run finished", zap.Int("exit_code", code))
	}

	stop()
	logger.Sync()
	os.Exit(code)
}

// reportStartupFailure emits a failure Result for errors that happen
// before a run can start, so the process never exits without one. The
// destination honors OUTPUT_PATH since the config may not have loaded.
func reportStartupFailure(err error) {
	path := os.Getenv("OUTPUT_PATH")
	if path == "" {
		path = "-"
	}
	snk := sink.NewJSON(path, false, uuid.New(), "", zap.NewNop())
	snk.RecordFailure(sink.KindConfig, err, 1)
	if flushErr := snk.Flush(); flushErr != nil {
		fmt.Fprintf(os.Stderr, "failed to write failure result: %v\n", flushErr)
	}
}

func runLoop(ctx context.Context, cfg *config.Config, r *runner.Runner, logger *zap.Logger) int {
	w := worker.New(cfg, r, logger)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.NewServer(&cfg.Server, w, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	err := w.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("status server shutdown failed", zap.Error(serr))
		}
	}

	if err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", zap.Error(err))
		return runner.ExitRunFailure
	}
	logger.Info("worker stopped")
	return runner.ExitOK
}
