// Package worker supervises repeated runs: a jittered interval derived
// from a daily record budget, in-memory de-duplication of recently emitted
// records, and a quiet period until UTC midnight once the budget is spent.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/config"
	"github.com/copyleftdev/gleaner/internal/runner"
	"github.com/copyleftdev/gleaner/internal/schema"
	"github.com/copyleftdev/gleaner/internal/sink"
)

// Status is a point-in-time snapshot served by the status API.
type Status struct {
	State        string       `json:"state"`
	StartedAt    time.Time    `json:"started_at"`
	Cycles       int          `json:"cycles"`
	EmittedToday int          `json:"emitted_today"`
	DailyLimit   int          `json:"daily_limit"`
	LastExitCode int          `json:"last_exit_code"`
	LastRun      *sink.Result `json:"last_run,omitempty"`
}

type Worker struct {
	cfg    *config.Config
	runner *runner.Runner
	logger *zap.Logger

	mu           sync.RWMutex
	state        string
	startedAt    time.Time
	cycles       int
	emittedToday int
	day          string
	lastResult   *sink.Result
	lastExit     int

	dedupe *dedupeRing
}

func New(cfg *config.Config, r *runner.Runner, logger *zap.Logger) *Worker {
	return &Worker{
		cfg:    cfg,
		runner: r,
		logger: logger,
		state:  "idle",
		dedupe: newDedupeRing(cfg.Schedule.DedupeSize),
	}
}

// Run loops until ctx is cancelled. Each cycle performs one full runner
// run; budget accounting only counts cycles that emitted records not seen
// before.
func (w *Worker) Run(ctx context.Context) error {
	base := baseInterval(w.cfg.Schedule.DailyLimit)
	w.logger.Info("worker started",
		zap.Duration("base_interval", base),
		zap.Int("daily_limit", w.cfg.Schedule.DailyLimit),
	)

	w.mu.Lock()
	w.state = "running"
	w.startedAt = time.Now().UTC()
	w.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			w.setState("stopped")
			return nil
		}

		now := time.Now().UTC()
		w.rollover(now)

		var sleep time.Duration
		if w.budgetLeft() {
			result, code := w.runner.Run(ctx)
			w.recordCycle(result, code)
			sleep = jittered(base, w.cfg.Schedule.MaxJitter, w.cfg.Schedule.MinSleep)
		} else {
			sleep = untilNextMidnightUTC(now) + time.Duration(60+rand.Intn(240))*time.Second
			if sleep < w.cfg.Schedule.MinSleep {
				sleep = w.cfg.Schedule.MinSleep
			}
			w.logger.Info("daily budget spent, sleeping until midnight UTC",
				zap.Duration("sleep", sleep))
		}

		w.logger.Info("cycle finished", zap.Duration("sleep", sleep))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			w.setState("stopped")
			return nil
		}
	}
}

func (w *Worker) Snapshot() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{
		State:        w.state,
		StartedAt:    w.startedAt,
		Cycles:       w.cycles,
		EmittedToday: w.emittedToday,
		DailyLimit:   w.cfg.Schedule.DailyLimit,
		LastExitCode: w.lastExit,
		LastRun:      w.lastResult,
	}
}

func (w *Worker) setState(s string) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) budgetLeft() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	limit := w.cfg.Schedule.DailyLimit
	return limit <= 0 || w.emittedToday < limit
}

// rollover resets the daily counter when the UTC day changes.
func (w *Worker) rollover(now time.Time) {
	day := now.Format("2006-01-02")
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.day != day {
		w.day = day
		w.emittedToday = 0
	}
}

func (w *Worker) recordCycle(result *sink.Result, code int) {
	fresh := 0
	if result != nil && result.Status == sink.StatusOK {
		fresh = w.freshRecords(result.Records)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.cycles++
	w.lastResult = result
	w.lastExit = code
	if fresh > 0 {
		w.emittedToday++
	}
}

// freshRecords counts records whose dedupe key has not been seen in the
// recent-history ring. Without a configured key every record is fresh.
func (w *Worker) freshRecords(records []schema.Record) int {
	field := w.cfg.Schedule.DedupeField
	if field == "" {
		return len(records)
	}
	fresh := 0
	for _, rec := range records {
		key, ok := rec[field].(string)
		if !ok || key == "" {
			continue
		}
		if w.dedupe.Add(key) {
			fresh++
		}
	}
	return fresh
}

// baseInterval spreads the daily budget evenly across 24 hours.
func baseInterval(dailyLimit int) time.Duration {
	if dailyLimit <= 0 {
		return 24 * time.Hour
	}
	return 24 * time.Hour / time.Duration(dailyLimit)
}

func jittered(base, maxJitter, minSleep time.Duration) time.Duration {
	d := base
	if maxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(2*maxJitter))) - maxJitter
	}
	if d < minSleep {
		d = minSleep
	}
	return d
}

func untilNextMidnightUTC(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}

// dedupeRing is a bounded FIFO of record keys with O(1) membership.
type dedupeRing struct {
	max   int
	order []string
	set   map[string]struct{}
}

func newDedupeRing(max int) *dedupeRing {
	if max <= 0 {
		max = 200
	}
	return &dedupeRing{
		max: max,
		set: make(map[string]struct{}, max),
	}
}

// Add inserts key and reports whether it was new, evicting the oldest
// entry once the ring is full.
func (r *dedupeRing) Add(key string) bool {
	if _, seen := r.set[key]; seen {
		return false
	}
	if len(r.order) >= r.max {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}
	r.order = append(r.order, key)
	r.set[key] = struct{}{}
	return true
}

func (r *dedupeRing) Len() int { return len(r.order) }
