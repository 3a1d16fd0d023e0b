package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/gleaner/internal/config"
)

type cdpSession struct {
	lifecycle

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	cfg             *config.BrowserConfig
	logger          *zap.Logger
	sem             *semaphore.Weighted
}

// launchCDP drives an installed Chrome directly over the DevTools protocol.
func launchCDP(ctx context.Context, cfg *config.BrowserConfig, logger *zap.Logger) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.IgnoreCertErrors,
	)
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// The allocator outlives the launch call; teardown happens in Close.
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	s := &cdpSession{
		allocatorCtx:    allocatorCtx,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		cfg:             cfg,
		logger:          logger,
		sem:             semaphore.NewWeighted(int64(cfg.MaxPages)),
	}

	// Force the browser process to start now so a missing binary surfaces
	// here instead of on the first navigation.
	startCtx := browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithDeadline(browserCtx, deadline)
		defer cancel()
	}
	if err := chromedp.Run(startCtx); err != nil {
		allocatorCancel()
		return nil, &EngineLaunchError{Engine: EngineCDP, Err: err}
	}

	s.markReady()
	logger.Info("browser session ready",
		zap.String("engine", string(EngineCDP)),
		zap.Bool("headless", cfg.Headless),
	)
	return s, nil
}

func (s *cdpSession) State() State { return s.current() }

func (s *cdpSession) OpenPage(ctx context.Context) (Page, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire page slot: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)

	init := chromedp.Tasks{
		chromedp.EmulateViewport(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(stealthInit).Do(ctx)
			return err
		}),
	}
	if err := chromedp.Run(tabCtx, init); err != nil {
		tabCancel()
		s.sem.Release(1)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &cdpPage{ctx: tabCtx, cancel: tabCancel, sem: s.sem}, nil
}

func (s *cdpSession) Close(ctx context.Context) error {
	return s.doClose(func() error {
		s.logger.Info("closing browser session")
		s.browserCancel()
		s.allocatorCancel()

		// chromedp reaps the browser process when the allocator context is
		// cancelled; wait for it so the process cannot leak past Close.
		done := make(chan struct{})
		go func() {
			chromedp.FromContext(s.allocatorCtx).Allocator.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("browser shutdown: %w", ctx.Err())
		}
	})
}

type cdpPage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted
	lastURL string
}

// opCtx derives an operation context from the tab context, carrying the
// caller's deadline and cancellation.
func (p *cdpPage) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	var opCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		opCtx, cancel = context.WithDeadline(p.ctx, deadline)
	} else {
		opCtx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() { stop(); cancel() }
}

func remainingIn(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return 0
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	remaining := remainingIn(ctx)
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.Navigate(url))
	if err == nil {
		p.lastURL = url
		return nil
	}
	return navOutcome(ctx, url, remaining, err)
}

// navOutcome maps a navigation failure to the page error taxonomy. A
// timeout stays a transient NavigationTimeoutError even when the caller's
// deadline produced it; cancellation by the caller passes through as the
// context error so it is never retried or misreported.
func navOutcome(ctx context.Context, url string, remaining time.Duration, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &NavigationTimeoutError{URL: url, Timeout: remaining}
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		return &PageDetachedError{Err: err}
	case errors.Is(err, context.Canceled):
		return ctx.Err()
	default:
		return &NavigationError{URL: url, Err: err}
	}
}

func (p *cdpPage) WaitVisible(ctx context.Context, selector string) error {
	remaining := remainingIn(ctx)
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PageDetachedError{Err: err}
	}
	return &ElementNotFoundError{Selector: selector, Timeout: remaining}
}

func (p *cdpPage) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(opCtx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &PageDetachedError{Err: err}
		}
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *cdpPage) Click(ctx context.Context, selector string) error {
	remaining := remainingIn(ctx)
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ElementNotFoundError{Selector: selector, Timeout: remaining}
	}
	return fmt.Errorf("click %q: %w", selector, err)
}

func (p *cdpPage) Fill(ctx context.Context, selector, value string) error {
	remaining := remainingIn(ctx)
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ElementNotFoundError{Selector: selector, Timeout: remaining}
	}
	return fmt.Errorf("fill %q: %w", selector, err)
}

func (p *cdpPage) SubmitForm(ctx context.Context, selector string) error {
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	if err := chromedp.Run(opCtx, chromedp.Submit(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ElementNotFoundError{Selector: selector, Timeout: remainingIn(ctx)}
		}
		return fmt.Errorf("submit %q: %w", selector, err)
	}
	return nil
}

func (p *cdpPage) Evaluate(ctx context.Context, script string) (any, error) {
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	var res any
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &res)); err != nil {
		// Scripts with no result are fine; side effects already happened.
		if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
			return nil, nil
		}
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return res, nil
}

func (p *cdpPage) Location() string {
	locCtx, cancel := context.WithTimeout(p.ctx, 2*time.Second)
	defer cancel()

	var url string
	if err := chromedp.Run(locCtx, chromedp.Location(&url)); err != nil {
		return p.lastURL
	}
	return url
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	var title string
	if err := chromedp.Run(opCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	return title, nil
}

func (p *cdpPage) Close() error {
	defer p.sem.Release(1)
	p.cancel()
	return nil
}
