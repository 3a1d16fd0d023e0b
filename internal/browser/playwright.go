package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/gleaner/internal/config"
)

type pwSession struct {
	lifecycle

	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	cfg     *config.BrowserConfig
	logger  *zap.Logger
	sem     *semaphore.Weighted
}

// launchPlaywright boots the Playwright runtime and one browser of the
// configured engine. The container layer is responsible for having the
// driver and browser builds installed; a missing runtime fails fast as an
// EngineLaunchError rather than attempting a download.
func launchPlaywright(ctx context.Context, cfg *config.BrowserConfig, logger *zap.Logger) (Session, error) {
	engine := Engine(cfg.Engine)

	s := &pwSession{
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.MaxPages)),
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, &EngineLaunchError{Engine: engine, Err: err}
	}
	s.pw = pw

	var browserType playwright.BrowserType
	switch engine {
	case EngineChromium:
		browserType = pw.Chromium
	case EngineWebkit:
		browserType = pw.WebKit
	default:
		browserType = pw.Firefox
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	}
	if cfg.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(cfg.ExecutablePath)
	}

	browser, err := browserType.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, &EngineLaunchError{Engine: engine, Err: err}
	}
	s.browser = browser

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
	}
	if cfg.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(cfg.UserAgent)
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, &EngineLaunchError{Engine: engine, Err: fmt.Errorf("browser context: %w", err)}
	}
	s.bctx = bctx

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthInit)}); err != nil {
		logger.Warn("failed to install init script", zap.Error(err))
	}

	s.markReady()
	logger.Info("browser session ready",
		zap.String("engine", string(engine)),
		zap.Bool("headless", cfg.Headless),
	)
	return s, nil
}

func (s *pwSession) State() State { return s.current() }

func (s *pwSession) OpenPage(ctx context.Context) (Page, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire page slot: %w", err)
	}

	pg, err := s.bctx.NewPage()
	if err != nil {
		s.sem.Release(1)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &pwPage{page: pg, sem: s.sem}, nil
}

func (s *pwSession) Close(ctx context.Context) error {
	return s.doClose(func() error {
		s.logger.Info("closing browser session")
		if err := s.bctx.Close(); err != nil {
			s.logger.Warn("browser context close", zap.Error(err))
		}
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("browser close", zap.Error(err))
		}
		if err := s.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		return nil
	})
}

type pwPage struct {
	page playwright.Page
	sem  *semaphore.Weighted
}

// opTimeout converts a context deadline into the millisecond timeout the
// Playwright protocol expects.
func opTimeout(ctx context.Context) (time.Duration, *float64) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	return remaining, playwright.Float(float64(remaining.Milliseconds()))
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	remaining, timeout := opTimeout(ctx)
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeout,
	})
	if err == nil {
		return nil
	}
	switch {
	case looksLikeTimeout(err):
		return &NavigationTimeoutError{URL: url, Timeout: remaining}
	case looksLikeDetached(err):
		return &PageDetachedError{Err: err}
	default:
		return &NavigationError{URL: url, Err: err}
	}
}

func (p *pwPage) WaitVisible(ctx context.Context, selector string) error {
	remaining, timeout := opTimeout(ctx)
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeout,
	})
	if err == nil {
		return nil
	}
	if looksLikeDetached(err) {
		return &PageDetachedError{Err: err}
	}
	return &ElementNotFoundError{Selector: selector, Timeout: remaining}
}

func (p *pwPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Content()
	if err != nil {
		if looksLikeDetached(err) {
			return "", &PageDetachedError{Err: err}
		}
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	remaining, timeout := opTimeout(ctx)
	err := p.page.Click(selector, playwright.PageClickOptions{Timeout: timeout})
	if err == nil {
		return nil
	}
	if looksLikeDetached(err) {
		return &PageDetachedError{Err: err}
	}
	if looksLikeTimeout(err) {
		return &ElementNotFoundError{Selector: selector, Timeout: remaining}
	}
	return fmt.Errorf("click %q: %w", selector, err)
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	remaining, timeout := opTimeout(ctx)
	err := p.page.Fill(selector, value, playwright.PageFillOptions{Timeout: timeout})
	if err == nil {
		return nil
	}
	if looksLikeDetached(err) {
		return &PageDetachedError{Err: err}
	}
	if looksLikeTimeout(err) {
		return &ElementNotFoundError{Selector: selector, Timeout: remaining}
	}
	return fmt.Errorf("fill %q: %w", selector, err)
}

func (p *pwPage) SubmitForm(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		const form = el.form || el.closest('form');
		if (form) { form.submit(); } else { el.click(); }
		return true;
	})()`, selector)

	res, err := p.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return &ElementNotFoundError{Selector: selector}
	}
	return nil
}

func (p *pwPage) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := p.page.Evaluate(script)
	if err != nil {
		if looksLikeDetached(err) {
			return nil, &PageDetachedError{Err: err}
		}
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return res, nil
}

func (p *pwPage) Location() string { return p.page.URL() }

func (p *pwPage) Title(ctx context.Context) (string, error) {
	return p.page.Title()
}

func (p *pwPage) Close() error {
	defer p.sem.Release(1)
	return p.page.Close()
}
