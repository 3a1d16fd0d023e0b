// Package runner orchestrates one run: launch a browser session, drive
// every target on its own page, normalize the outcome into the result
// sink, and guarantee teardown on every path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/gleaner/internal/browser"
	"github.com/copyleftdev/gleaner/internal/config"
	"github.com/copyleftdev/gleaner/internal/retry"
	"github.com/copyleftdev/gleaner/internal/schema"
	"github.com/copyleftdev/gleaner/internal/sink"
	"github.com/copyleftdev/gleaner/internal/steps"
)

// Process exit codes, part of the container contract.
const (
	ExitOK           = 0
	ExitEngineLaunch = 1
	ExitRunFailure   = 2
	ExitSinkWrite    = 3
)

// SessionLauncher acquires a browser session. Injectable for tests.
type SessionLauncher func(ctx context.Context, cfg *config.BrowserConfig, logger *zap.Logger) (browser.Session, error)

// SinkFactory builds the sink for one run.
type SinkFactory func(runID uuid.UUID) sink.Sink

type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	launch  SessionLauncher
	newSink SinkFactory
	targets []*steps.Target
}

func New(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		logger: logger,
		launch: browser.Launch,
	}
	r.newSink = func(runID uuid.UUID) sink.Sink {
		return sink.NewJSON(cfg.Sink.Path, cfg.Sink.Pretty, runID, cfg.Browser.Engine, logger)
	}

	for _, tc := range cfg.Targets {
		t, err := steps.CompileTarget(tc)
		if err != nil {
			return nil, err
		}
		r.targets = append(r.targets, t)
	}
	if len(r.targets) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}
	return r, nil
}

// SetLauncher and SetSinkFactory override collaborators; used by tests
// and by the worker to observe results.
func (r *Runner) SetLauncher(l SessionLauncher) { r.launch = l }
func (r *Runner) SetSinkFactory(f SinkFactory)  { r.newSink = f }

// Run executes one full run and returns the flushed Result along with the
// process exit code. Exactly one outcome is recorded and flushed on every
// path, including cancellation.
func (r *Runner) Run(ctx context.Context) (*sink.Result, int) {
	runID := uuid.New()
	snk := r.newSink(runID)
	log := r.logger.With(zap.String("run_id", runID.String()))

	code := r.execute(ctx, snk, log)

	if err := snk.Flush(); err != nil {
		log.Error("failed to flush result", zap.Error(err))
		code = ExitSinkWrite
	}
	return snk.Result(), code
}

func (r *Runner) execute(ctx context.Context, snk sink.Sink, log *zap.Logger) int {
	if r.cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Run.Deadline)
		defer cancel()
	}

	session, err := r.launch(ctx, &r.cfg.Browser, log)
	if err != nil {
		log.Error("engine launch failed", zap.Error(err))
		snk.RecordFailure(sink.KindEngineLaunch, err, 1)
		return ExitEngineLaunch
	}
	defer func() {
		// Teardown gets its own deadline: a cancelled run context must not
		// prevent the engine process from being reaped.
		closeCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Browser.ShutdownTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Warn("session close", zap.Error(err))
		}
	}()

	policy := retry.Policy{
		MaxAttempts: r.cfg.Run.MaxAttempts,
		BaseDelay:   r.cfg.Run.RetryBaseDelay,
		MaxDelay:    r.cfg.Run.RetryMaxDelay,
		Jitter:      0.2,
	}
	executor := steps.NewExecutor(policy, r.cfg.Run.StepTimeout, log)

	var (
		mu      sync.Mutex
		records []schema.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range r.targets {
		g.Go(func() error {
			page, err := session.OpenPage(gctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := page.Close(); err != nil {
					log.Debug("page close", zap.Error(err))
				}
			}()

			recs, err := executor.RunTarget(gctx, page, target)
			if err != nil {
				return err
			}
			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		kind := classify(err)
		attempts := retry.Attempts(err)
		log.Error("run failed",
			zap.String("kind", kind),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		snk.RecordFailure(kind, err, attempts)
		return ExitRunFailure
	}

	snk.Record(records)
	return ExitOK
}

func classify(err error) string {
	var extractErr *schema.ExtractionError
	if errors.As(err, &extractErr) {
		return sink.KindExtraction
	}
	if errors.Is(err, browser.ErrSessionNotReady) {
		return sink.KindSession
	}
	if browser.IsTransient(err) {
		return sink.KindNavigation
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return sink.KindCanceled
	}
	return sink.KindNavigation
}
