package mocks

import (
	"context"
	"sync"

	"github.com/copyleftdev/gleaner/internal/browser"
)

// MockSession implements the browser.Session interface for testing
type MockSession struct {
	mu          sync.Mutex
	state       browser.State
	pages       []*MockPage
	openErr     error
	closeErr    error
	closeCalls  int
	pageFactory func() *MockPage
}

// NewMockSession creates a ready mock session whose pages are produced
// by factory. A nil factory yields plain empty pages.
func NewMockSession(factory func() *MockPage) *MockSession {
	if factory == nil {
		factory = func() *MockPage { return NewMockPage("") }
	}
	return &MockSession{
		state:       browser.StateReady,
		pageFactory: factory,
	}
}

func (m *MockSession) OpenPage(ctx context.Context) (browser.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.state != browser.StateReady {
		return nil, browser.ErrSessionNotReady
	}
	p := m.pageFactory()
	m.pages = append(m.pages, p)
	return p, nil
}

func (m *MockSession) State() browser.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockSession) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	m.state = browser.StateClosed
	return m.closeErr
}

// SetOpenPageError makes subsequent OpenPage calls fail with err.
func (m *MockSession) SetOpenPageError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetCloseError sets the error returned by Close.
func (m *MockSession) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// CloseCalls returns how many times Close was invoked.
func (m *MockSession) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// OpenedPages returns every page handed out by OpenPage.
func (m *MockSession) OpenedPages() []*MockPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockPage, len(m.pages))
	copy(out, m.pages)
	return out
}

// MockPage implements the browser.Page interface for testing. Errors can
// be scripted per method, keyed by the navigate/selector argument; an
// entry under the empty key applies to every call of that method.
type MockPage struct {
	mu sync.Mutex

	html     string
	location string
	title    string

	calls       []Call
	navErrs     map[string]error
	waitErrs    map[string]error
	clickErrs   map[string]error
	fillErrs    map[string]error
	submitErrs  map[string]error
	htmlErr     error
	evalResults map[string]any
	evalErr     error
	closeCalls  int

	// navFailures counts down: while positive, Navigate fails with the
	// scripted error regardless of URL. Used to exercise retries.
	navFailures int
	navErr      error

	// blockNav makes Navigate wait for the caller's context and return
	// its error. Used to exercise deadline and cancellation paths.
	blockNav bool
}

// Call records one method invocation on a MockPage.
type Call struct {
	Method string
	Arg    string
}

func NewMockPage(html string) *MockPage {
	return &MockPage{
		html:        html,
		navErrs:     make(map[string]error),
		waitErrs:    make(map[string]error),
		clickErrs:   make(map[string]error),
		fillErrs:    make(map[string]error),
		submitErrs:  make(map[string]error),
		evalResults: make(map[string]any),
	}
}

func (p *MockPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: "navigate", Arg: url})
	if p.blockNav {
		p.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer p.mu.Unlock()

	if p.navFailures > 0 {
		p.navFailures--
		return p.navErr
	}
	if err := lookupErr(p.navErrs, url); err != nil {
		return err
	}
	p.location = url
	return nil
}

func (p *MockPage) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "wait_visible", Arg: selector})
	return lookupErr(p.waitErrs, selector)
}

func (p *MockPage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "html"})
	if p.htmlErr != nil {
		return "", p.htmlErr
	}
	return p.html, nil
}

func (p *MockPage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "click", Arg: selector})
	return lookupErr(p.clickErrs, selector)
}

func (p *MockPage) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "fill", Arg: selector + "=" + value})
	return lookupErr(p.fillErrs, selector)
}

func (p *MockPage) SubmitForm(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "submit", Arg: selector})
	return lookupErr(p.submitErrs, selector)
}

func (p *MockPage) Evaluate(ctx context.Context, script string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "evaluate", Arg: script})
	if p.evalErr != nil {
		return nil, p.evalErr
	}
	return p.evalResults[script], nil
}

func (p *MockPage) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

func (p *MockPage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *MockPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return nil
}

// SetHTML replaces the document returned by HTML.
func (p *MockPage) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// SetHTMLError makes HTML fail with err.
func (p *MockPage) SetHTMLError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.htmlErr = err
}

// SetNavigateError scripts Navigate for one URL ("" matches all).
func (p *MockPage) SetNavigateError(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navErrs[url] = err
}

// BlockOnNavigate makes Navigate hang until the caller's context ends,
// returning its error.
func (p *MockPage) BlockOnNavigate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockNav = true
}

// FailNavigations makes the next n Navigate calls fail with err, then
// succeed again.
func (p *MockPage) FailNavigations(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navFailures = n
	p.navErr = err
}

// SetWaitVisibleError scripts WaitVisible for one selector ("" matches all).
func (p *MockPage) SetWaitVisibleError(selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitErrs[selector] = err
}

// SetClickError scripts Click for one selector ("" matches all).
func (p *MockPage) SetClickError(selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clickErrs[selector] = err
}

// SetFillError scripts Fill for one selector ("" matches all).
func (p *MockPage) SetFillError(selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillErrs[selector] = err
}

// SetSubmitError scripts SubmitForm for one selector ("" matches all).
func (p *MockPage) SetSubmitError(selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitErrs[selector] = err
}

// SetEvaluateResult scripts the value returned for an exact script.
func (p *MockPage) SetEvaluateResult(script string, result any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalResults[script] = result
}

// Calls returns the recorded method invocations in order.
func (p *MockPage) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CloseCalls returns how many times Close was invoked.
func (p *MockPage) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func lookupErr(m map[string]error, key string) error {
	if err, ok := m[key]; ok {
		return err
	}
	return m[""]
}
