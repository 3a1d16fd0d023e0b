package steps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/auth"
	"github.com/copyleftdev/gleaner/internal/browser"
	"github.com/copyleftdev/gleaner/internal/retry"
	"github.com/copyleftdev/gleaner/internal/schema"
)

// Executor drives one page through a target. A single Executor may be
// shared across goroutines; each call owns its page exclusively.
type Executor struct {
	policy      retry.Policy
	stepTimeout time.Duration
	logger      *zap.Logger
}

func NewExecutor(policy retry.Policy, stepTimeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		policy:      policy,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// RunTarget connects the page to the target, performs its interaction
// steps, and extracts records. Transient failures are retried per step;
// the ctx deadline bounds the whole target.
func (e *Executor) RunTarget(ctx context.Context, page browser.Page, t *Target) ([]schema.Record, error) {
	log := e.logger.With(zap.String("target", t.Name))

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		return e.connect(ctx, page, t, log)
	})
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", t.Name, err)
	}

	for i, step := range t.Steps {
		err := e.policy.Do(ctx, func(ctx context.Context) error {
			return e.runStep(ctx, page, step)
		})
		if err != nil {
			return nil, fmt.Errorf("target %q: step %d (%s): %w", t.Name, i, step.Type, err)
		}
	}

	if len(t.Schema.Fields) == 0 {
		return nil, nil
	}

	var html string
	err = e.policy.Do(ctx, func(ctx context.Context) error {
		stepCtx, cancel := e.stepContext(ctx, 0)
		defer cancel()
		var err error
		html, err = page.HTML(stepCtx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", t.Name, err)
	}

	records, err := schema.ExtractAll(html, t.Items, t.Schema, t.MaxRecords)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", t.Name, err)
	}
	log.Info("target extracted", zap.Int("records", len(records)))
	return records, nil
}

// connect tries each mirror URL in order and succeeds on the first page
// that loads and satisfies the wait selector. All mirrors failing is one
// transient failure from the retry policy's point of view.
func (e *Executor) connect(ctx context.Context, page browser.Page, t *Target, log *zap.Logger) error {
	var lastErr error
	for _, url := range t.URLs {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := func() error {
			stepCtx, cancel := e.stepContext(ctx, 0)
			defer cancel()
			if err := page.Navigate(stepCtx, url); err != nil {
				return err
			}
			if t.WaitFor == "" {
				return nil
			}
			return page.WaitVisible(stepCtx, t.WaitFor)
		}()
		if err == nil {
			log.Info("connected", zap.String("url", url))
			return nil
		}

		log.Warn("instance failed", zap.String("url", url), zap.Error(err))
		lastErr = err
	}

	if lastErr == nil {
		return fmt.Errorf("no urls configured")
	}
	return lastErr
}

func (e *Executor) runStep(ctx context.Context, page browser.Page, step Step) error {
	stepCtx, cancel := e.stepContext(ctx, step.Timeout)
	defer cancel()

	switch step.Type {
	case TypeNavigate:
		return page.Navigate(stepCtx, step.Value)
	case TypeWaitVisible:
		return page.WaitVisible(stepCtx, step.Selector)
	case TypeWaitDelay:
		d, _ := time.ParseDuration(step.Value)
		select {
		case <-time.After(d):
			return nil
		case <-stepCtx.Done():
			return stepCtx.Err()
		}
	case TypeClick:
		return page.Click(stepCtx, step.Selector)
	case TypeFill:
		return page.Fill(stepCtx, step.Selector, step.Value)
	case TypeFillTOTP:
		code, err := auth.Code(step.Value)
		if err != nil {
			return err
		}
		return page.Fill(stepCtx, step.Selector, code)
	case TypeSubmit:
		return page.SubmitForm(stepCtx, step.Selector)
	case TypeScroll:
		return e.scroll(stepCtx, page, step)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (e *Executor) scroll(ctx context.Context, page browser.Page, step Step) error {
	var script string
	switch {
	case step.Value == "top":
		script = `(() => { window.scrollTo(0, 0); return true; })()`
	case step.Value == "bottom":
		script = `(() => { window.scrollTo(0, document.body.scrollHeight); return true; })()`
	default:
		script = fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (el) el.scrollIntoView();
			return !!el;
		})()`, step.Selector)
	}
	_, err := page.Evaluate(ctx, script)
	return err
}

// stepContext applies the per-step timeout without ever extending the
// caller's deadline: a run-level deadline closer than the step timeout
// still wins.
func (e *Executor) stepContext(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	timeout := e.stepTimeout
	if override > 0 {
		timeout = override
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
