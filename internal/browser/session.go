// Package browser drives a real Chrome instance through chromedp. Each Session
// owns its own browser process so state never leaks between identifiers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultWaitTimeout = 20 * time.Second
	transitionPoll     = 100 * time.Millisecond
)

// ErrSessionClosed reports an action on a tab whose browser is gone, either
// closed by the caller or lost (crash, dropped connection).
var ErrSessionClosed = errors.New("browser session closed")

// Config controls how browsers are launched.
type Config struct {
	Headless    bool
	NoSandbox   bool
	ExecPath    string
	UserAgent   string
	WaitTimeout time.Duration
}

// Factory launches one browser per Open call.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if cfg.WaitTimeout < 0 {
		return nil, fmt.Errorf("wait timeout must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}, nil
}

func (f *Factory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if f.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	return opts
}

// Open starts a fresh browser and tab. The caller must Close the session.
func (f *Factory) Open(ctx context.Context) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         tabCtx,
		cancel:      sync.OnceFunc(func() { tabCancel(); allocCancel() }),
		waitTimeout: f.waitTimeout(),
		dialogs:     make(chan string, 4),
		logger:      f.logger,
	}
	chromedp.ListenTarget(tabCtx, s.captureEvent)

	// The first Run allocates Chrome and binds the process to the context it
	// is given, so it must run on the tab context itself.
	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(tabCtx, f.setupAction())
	stop()
	if err != nil {
		s.cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("start browser: %w", ctxErr)
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

func (f *Factory) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Factory) waitTimeout() time.Duration {
	if f.cfg.WaitTimeout > 0 {
		return f.cfg.WaitTimeout
	}
	return defaultWaitTimeout
}

// Session is a single browser tab. Element lookups are CSS selectors.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	waitTimeout time.Duration
	dialogs     chan string
	logger      *zap.Logger

	closeOnce sync.Once
}

// run executes actions on the tab, bounded by budget (when positive) and by
// cancellation of the caller's ctx. A tab that died underneath the call yields
// ErrSessionClosed rather than a context error.
func (s *Session) run(ctx context.Context, budget time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if budget > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, budget)
		defer timeoutCancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if s.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return err
	}
	return nil
}

// Navigate loads url in the tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.waitTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until sel is visible or the wait budget elapses.
func (s *Session) WaitVisible(ctx context.Context, sel string) error {
	if err := s.run(ctx, s.waitTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", sel, err)
	}
	return nil
}

// Click waits for sel to be enabled and clicks it.
func (s *Session) Click(ctx context.Context, sel string) error {
	err := s.run(ctx, s.waitTimeout,
		chromedp.WaitEnabled(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// SetValue clears the input matched by sel and types value into it.
func (s *Session) SetValue(ctx context.Context, sel, value string) error {
	err := s.run(ctx, s.waitTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", sel, err)
	}
	return nil
}

// SelectOption selects the <option> of the <select> matched by sel whose value
// equals value. It reports false when no such option exists.
func (s *Session) SelectOption(ctx context.Context, sel, value string) (bool, error) {
	var found bool
	err := s.run(ctx, s.waitTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Evaluate(selectOptionScript(sel, value), &found),
	)
	if err != nil {
		return false, fmt.Errorf("select %q in %s: %w", value, sel, err)
	}
	return found, nil
}

// Attribute returns the resolved DOM property name of the element matched by
// sel, so relative URLs come back absolute.
func (s *Session) Attribute(ctx context.Context, sel, name string) (string, error) {
	var value string
	err := s.run(ctx, s.waitTimeout,
		chromedp.WaitReady(sel, chromedp.ByQuery),
		chromedp.JavascriptAttribute(sel, name, &value, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("read %s of %s: %w", name, sel, err)
	}
	return value, nil
}

// CookieHeader returns the cookies visible to the current page as a Cookie
// header value.
func (s *Session) CookieHeader(ctx context.Context) (string, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, s.waitTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("read cookies: %w", err)
	}
	return cookieHeader(cookies), nil
}

// ResetDialogs discards dialogs observed so far.
func (s *Session) ResetDialogs() {
	for {
		select {
		case <-s.dialogs:
		default:
			return
		}
	}
}

// AwaitDialog waits up to window for a JavaScript dialog and returns its
// message. The empty string means no dialog appeared.
func (s *Session) AwaitDialog(ctx context.Context, window time.Duration) (string, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case msg := <-s.dialogs:
		return msg, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// WaitTransition blocks until a fully loaded page either shows marker or no
// longer displays form. It polls across the navigation a submit starts and
// gives up when the wait budget elapses.
func (s *Session) WaitTransition(ctx context.Context, marker, form string) error {
	script := transitionScript(marker, form)
	err := s.run(ctx, s.waitTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(transitionPoll)
		defer ticker.Stop()
		for {
			var done bool
			// Evaluation fails while the old document unloads; retry.
			if err := chromedp.Evaluate(script, &done).Do(ctx); err == nil && done {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}))
	if err != nil {
		return fmt.Errorf("wait for page transition: %w", err)
	}
	return nil
}

// Document waits for the body to be ready and returns the page's outer HTML.
func (s *Session) Document(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, s.waitTimeout,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("capture document: %w", err)
	}
	return html, nil
}

// Close shuts down the tab and its browser process.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

// captureEvent accepts every JavaScript dialog and queues its message.
func (s *Session) captureEvent(ev any) {
	opening, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}
	select {
	case s.dialogs <- opening.Message:
	default:
		s.logger.Debug("dialog queue full, dropping message", zap.String("message", opening.Message))
	}
	go func() {
		if err := chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true)); err != nil {
			s.logger.Debug("failed to accept dialog", zap.Error(err))
		}
	}()
}

func selectOptionScript(sel, value string) string {
	return fmt.Sprintf(`(function(sel, value) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	for (const opt of el.options) {
		if (opt.value === value) {
			el.value = value;
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
})(%q, %q)`, sel, value)
}

func transitionScript(marker, form string) string {
	return fmt.Sprintf(`(function(marker, form) {
	if (document.readyState !== 'complete') { return false; }
	if (marker && document.querySelector(marker)) { return true; }
	if (!form) { return false; }
	const el = document.querySelector(form);
	return !el || el.offsetParent === null;
})(%q, %q)`, marker, form)
}

func cookieHeader(cookies []*network.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
