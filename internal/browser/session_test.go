package browser

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFactoryValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(Config{WaitTimeout: -time.Second}, nil)
	require.Error(t, err)

	f, err := NewFactory(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultWaitTimeout, f.waitTimeout())

	f, err = NewFactory(Config{WaitTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, f.waitTimeout())
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base, err := NewFactory(Config{Headless: true}, nil)
	require.NoError(t, err)
	full, err := NewFactory(Config{Headless: true, NoSandbox: true, ExecPath: "/usr/bin/chromium", UserAgent: "ua"}, nil)
	require.NoError(t, err)

	assert.Len(t, full.allocatorOptions(), len(base.allocatorOptions())+3)
}

func TestCookieHeader(t *testing.T) {
	t.Parallel()

	got := cookieHeader([]*network.Cookie{
		{Name: "ASP.NET_SessionId", Value: "abc"},
		nil,
		{Name: "", Value: "ignored"},
		{Name: "theme", Value: "dark"},
	})
	assert.Equal(t, "ASP.NET_SessionId=abc; theme=dark", got)
	assert.Equal(t, "", cookieHeader(nil))
}

func TestSelectOptionScriptQuotesArguments(t *testing.T) {
	t.Parallel()

	script := selectOptionScript("#drp", `1"`)
	assert.Contains(t, script, `("#drp", "1\"")`)
	assert.True(t, strings.HasPrefix(script, "(function(sel, value)"))
}

func newTestSession() *Session {
	return &Session{
		ctx:     context.Background(),
		dialogs: make(chan string, 4),
		logger:  zap.NewNop(),
	}
}

func TestAwaitDialog(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	msg, err := s.AwaitDialog(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msg)

	s.captureEvent(&page.EventJavascriptDialogOpening{Message: "Wrong captcha"})
	s.captureEvent(&network.EventResponseReceived{})
	msg, err = s.AwaitDialog(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Wrong captcha", msg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.AwaitDialog(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResetDialogsDrainsQueue(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.captureEvent(&page.EventJavascriptDialogOpening{Message: "one"})
	s.captureEvent(&page.EventJavascriptDialogOpening{Message: "two"})
	s.ResetDialogs()

	msg, err := s.AwaitDialog(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestTransitionScriptQuotesArguments(t *testing.T) {
	t.Parallel()

	script := transitionScript("#lblName", `#btn"x`)
	assert.Contains(t, script, `("#lblName", "#btn\"x")`)
	assert.Contains(t, script, "document.readyState !== 'complete'")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	s := newTestSession()
	s.cancel = func() { calls++ }
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)
}
