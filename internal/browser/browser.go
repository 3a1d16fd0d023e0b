package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/config"
)

// Engine identifies a browser backend.
type Engine string

const (
	EngineFirefox  Engine = "firefox"
	EngineChromium Engine = "chromium"
	EngineWebkit   Engine = "webkit"
	// EngineCDP attaches to an installed Chrome over the DevTools protocol
	// instead of going through the Playwright runtime.
	EngineCDP Engine = "cdp"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session owns one live browser engine process and the pages opened in it.
// Close is idempotent and must run on every exit path.
type Session interface {
	// OpenPage returns a new page bound to the session. It fails with
	// ErrSessionNotReady before launch completes or after Close.
	OpenPage(ctx context.Context) (Page, error)
	State() State
	Close(ctx context.Context) error
}

// Page is a navigable document context. A Page must not be driven by more
// than one goroutine at a time.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SubmitForm(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, script string) (any, error)
	Location() string
	Title(ctx context.Context) (string, error)
	Close() error
}

// Launch starts the engine selected by cfg.Engine and returns a ready
// Session. A missing or broken engine binary yields *EngineLaunchError.
func Launch(ctx context.Context, cfg *config.BrowserConfig, logger *zap.Logger) (Session, error) {
	switch Engine(cfg.Engine) {
	case EngineCDP:
		return launchCDP(ctx, cfg, logger)
	case EngineFirefox, EngineChromium, EngineWebkit:
		return launchPlaywright(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

// lifecycle tracks session state transitions shared by both drivers.
// Ready is entered exactly once after a successful launch; Close is safe
// to call from multiple goroutines racing to report failure.
type lifecycle struct {
	state     atomic.Int32
	closeOnce sync.Once
}

func (l *lifecycle) current() State { return State(l.state.Load()) }

func (l *lifecycle) markReady() { l.state.Store(int32(StateReady)) }

func (l *lifecycle) requireReady() error {
	if l.current() != StateReady {
		return ErrSessionNotReady
	}
	return nil
}

// doClose runs fn exactly once, moving through Closing to Closed.
func (l *lifecycle) doClose(fn func() error) error {
	var err error
	l.closeOnce.Do(func() {
		l.state.Store(int32(StateClosing))
		err = fn()
		l.state.Store(int32(StateClosed))
	})
	return err
}

// stealthInit masks the automation flag some sites key off.
const stealthInit = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`
