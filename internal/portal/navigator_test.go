package portal

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// fakeSession replays scripted portal behaviour and records every call.
type fakeSession struct {
	dialogs      []string
	semesters    map[string]bool
	timeoutOn    string
	documentHTML string

	submits     int
	calls       []string
	values      map[string][]string
	closed      int
	cookieAsked int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		semesters:    map[string]bool{"1": true, "2": true},
		documentHTML: "<html><body>result</body></html>",
		values:       map[string][]string{},
	}
}

func (f *fakeSession) check(ctx context.Context, name string) error {
	f.calls = append(f.calls, name)
	if f.timeoutOn == name {
		return context.DeadlineExceeded
	}
	return ctx.Err()
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	return f.check(ctx, "navigate:"+url)
}

func (f *fakeSession) WaitVisible(ctx context.Context, sel string) error {
	return f.check(ctx, "wait:"+sel)
}

func (f *fakeSession) Click(ctx context.Context, sel string) error {
	if sel == DefaultElements().Submit {
		f.submits++
	}
	return f.check(ctx, "click:"+sel)
}

func (f *fakeSession) SetValue(ctx context.Context, sel, value string) error {
	f.values[sel] = append(f.values[sel], value)
	return f.check(ctx, "set:"+sel)
}

func (f *fakeSession) SelectOption(ctx context.Context, sel, value string) (bool, error) {
	if err := f.check(ctx, "select:"+sel); err != nil {
		return false, err
	}
	return f.semesters[value], nil
}

func (f *fakeSession) Attribute(ctx context.Context, sel, name string) (string, error) {
	return "https://portal.example/CaptchaImage.axd?guid=1", f.check(ctx, "attr:"+name)
}

func (f *fakeSession) CookieHeader(context.Context) (string, error) {
	f.cookieAsked++
	return "ASP.NET_SessionId=s1", nil
}

func (f *fakeSession) ResetDialogs() {}

func (f *fakeSession) AwaitDialog(ctx context.Context, _ time.Duration) (string, error) {
	if err := f.check(ctx, "await"); err != nil {
		return "", err
	}
	idx := f.submits - 1
	if idx < len(f.dialogs) {
		return f.dialogs[idx], nil
	}
	return "", nil
}

func (f *fakeSession) WaitTransition(ctx context.Context, marker, form string) error {
	return f.check(ctx, "transition:"+marker+"|"+form)
}

func (f *fakeSession) Document(ctx context.Context) (string, error) {
	return f.documentHTML, f.check(ctx, "document")
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

func indexOf(calls []string, name string) int {
	for i, c := range calls {
		if c == name {
			return i
		}
	}
	return -1
}

type fakeImages struct {
	headers http.Header
	err     error
}

func (f *fakeImages) Load(_ context.Context, _ string, headers http.Header) ([]byte, error) {
	f.headers = headers
	return []byte("img"), f.err
}

type fakeSolver struct {
	answers []string
	calls   int
}

func (f *fakeSolver) Solve(context.Context, []byte) string {
	defer func() { f.calls++ }()
	if f.calls < len(f.answers) {
		return f.answers[f.calls]
	}
	return "ZZZZ"
}

func newTestNavigator(t *testing.T, session *fakeSession, images *fakeImages, solver *fakeSolver) *Navigator {
	t.Helper()
	opener := OpenerFunc(func(context.Context) (Session, error) { return session, nil })
	nav, err := New(Config{}, opener, images, solver, nil)
	require.NoError(t, err)
	nav.pause = func(context.Context, time.Duration) error { return nil }
	return nav
}

var testSelection = harvest.Selection{Program: 2, Semester: "1", Grading: true}

func TestRetrieveAcceptedFirstAttempt(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	images := &fakeImages{}
	nav := newTestNavigator(t, session, images, &fakeSolver{answers: []string{"AB12"}})

	doc, attempts, err := nav.Retrieve(context.Background(), "0805CS241001", testSelection)
	require.NoError(t, err)
	assert.Equal(t, "0805CS241001", doc.Identifier)
	assert.Equal(t, []byte(session.documentHTML), doc.Markup)
	require.Len(t, attempts, 1)
	assert.Equal(t, harvest.OutcomeAccepted, attempts[0].Outcome)
	assert.Equal(t, "AB12", attempts[0].Answer)
	assert.Equal(t, 1, attempts[0].Number)
	assert.Equal(t, "1", attempts[0].Semester)
	assert.True(t, attempts[0].Grading)
	assert.Equal(t, 1, session.closed)

	el := DefaultElements()
	assert.Contains(t, session.calls, "click:#radlstProgram_1")
	assert.Contains(t, session.calls, "click:"+el.Grading)
	require.Contains(t, session.calls, "transition:"+el.ResultMarker+"|"+el.Submit)
	assert.Less(t, indexOf(session.calls, "transition:"+el.ResultMarker+"|"+el.Submit), indexOf(session.calls, "document"))
	assert.Equal(t, []string{"AB12"}, session.values[el.CaptchaInput])
	assert.Equal(t, "ASP.NET_SessionId=s1", images.headers.Get("Cookie"))
}

func TestRetrieveRetriesRejectedAndRepopulates(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.dialogs = []string{"Wrong Captcha", "Wrong Captcha"}
	nav := newTestNavigator(t, session, &fakeImages{}, &fakeSolver{answers: []string{"A", "B", "C"}})

	doc, attempts, err := nav.Retrieve(context.Background(), "0805CS241002", testSelection)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Markup)
	require.Len(t, attempts, 3)
	assert.Equal(t, harvest.OutcomeRejected, attempts[0].Outcome)
	assert.Equal(t, "Wrong Captcha", attempts[0].Dialog)
	assert.Equal(t, harvest.OutcomeRejected, attempts[1].Outcome)
	assert.Equal(t, harvest.OutcomeAccepted, attempts[2].Outcome)
	assert.Equal(t, []int{1, 2, 3}, []int{attempts[0].Number, attempts[1].Number, attempts[2].Number})

	el := DefaultElements()
	assert.Equal(t, []string{"0805CS241002", "0805CS241002", "0805CS241002"}, session.values[el.Identifier])
	assert.Equal(t, []string{"A", "B", "C"}, session.values[el.CaptchaInput])
	assert.Equal(t, 1, session.closed)
}

func TestRetrieveStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.dialogs = []string{"no", "no", "no", "no"}
	nav := newTestNavigator(t, session, &fakeImages{}, &fakeSolver{})

	_, attempts, err := nav.Retrieve(context.Background(), "0805CS241003", testSelection)
	require.ErrorIs(t, err, harvest.ErrCaptchaRejected)
	assert.Len(t, attempts, 3)
	assert.Equal(t, 3, session.submits)
	assert.Equal(t, 1, session.closed)
}

func TestRetrieveTimeoutIsTerminal(t *testing.T) {
	t.Parallel()

	el := DefaultElements()
	session := newFakeSession()
	session.timeoutOn = "wait:" + el.CaptchaImage
	nav := newTestNavigator(t, session, &fakeImages{}, &fakeSolver{})

	_, attempts, err := nav.Retrieve(context.Background(), "0805CS241004", testSelection)
	require.ErrorIs(t, err, harvest.ErrNavigationTimeout)
	assert.Equal(t, harvest.LabelTimedOut, harvest.Classify(err))
	require.Len(t, attempts, 1)
	assert.Equal(t, harvest.OutcomeTimedOut, attempts[0].Outcome)
	assert.Zero(t, session.submits)
	assert.Equal(t, 1, session.closed)
}

func TestRetrieveNoDialogButFormStaysUp(t *testing.T) {
	t.Parallel()

	el := DefaultElements()
	session := newFakeSession()
	session.timeoutOn = "transition:" + el.ResultMarker + "|" + el.Submit
	nav := newTestNavigator(t, session, &fakeImages{}, &fakeSolver{answers: []string{"AB12"}})

	_, attempts, err := nav.Retrieve(context.Background(), "0805CS241008", testSelection)
	require.ErrorIs(t, err, harvest.ErrNavigationTimeout)
	require.Len(t, attempts, 1)
	assert.Equal(t, harvest.OutcomeTimedOut, attempts[0].Outcome)
	assert.Equal(t, 1, session.submits)
	assert.NotContains(t, session.calls, "document", "the form page must never be captured")
}

func TestRetrieveTimeoutBeforeForm(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	session.timeoutOn = "click:#radlstProgram_1"
	nav := newTestNavigator(t, session, &fakeImages{}, &fakeSolver{})

	_, attempts, err := nav.Retrieve(context.Background(), "0805CS241005", testSelection)
	require.ErrorIs(t, err, harvest.ErrNavigationTimeout)
	assert.Empty(t, attempts)
	assert.Equal(t, 1, session.closed)
}

func TestRetrieveMissingSemesterOption(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	nav := newTestNavigator(t, session, &fakeImages{}, &fakeSolver{})

	sel := testSelection
	sel.Semester = "9"
	_, _, err := nav.Retrieve(context.Background(), "0805CS241006", sel)
	require.ErrorIs(t, err, harvest.ErrOptionNotFound)
	assert.Zero(t, session.submits)
	assert.Equal(t, 1, session.closed)
}

func TestRetrieveImageFailureSubmitsEmptyAnswer(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	solver := &fakeSolver{}
	nav := newTestNavigator(t, session, &fakeImages{err: errors.New("gone")}, solver)

	_, attempts, err := nav.Retrieve(context.Background(), "0805CS241007", harvest.Selection{Program: 1, Semester: "2"})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Empty(t, attempts[0].Answer)
	assert.Zero(t, solver.calls)
	assert.Contains(t, session.calls, "click:"+DefaultElements().NonGrading)
	assert.Equal(t, "2", attempts[0].Semester)
	assert.False(t, attempts[0].Grading)
}

func TestRetrieveOpenFailure(t *testing.T) {
	t.Parallel()

	opener := OpenerFunc(func(context.Context) (Session, error) { return nil, errors.New("no chrome") })
	nav, err := New(Config{}, opener, &fakeImages{}, &fakeSolver{}, nil)
	require.NoError(t, err)
	_, _, err = nav.Retrieve(context.Background(), "x", testSelection)
	require.Error(t, err)
	assert.Equal(t, harvest.LabelFailed, harvest.Classify(err))
}

func TestRetrieveValidatesInput(t *testing.T) {
	t.Parallel()

	nav := newTestNavigator(t, newFakeSession(), &fakeImages{}, &fakeSolver{})
	_, _, err := nav.Retrieve(context.Background(), "", testSelection)
	require.Error(t, err)
	_, _, err = nav.Retrieve(context.Background(), "x", harvest.Selection{Program: 0, Semester: "1"})
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	opener := OpenerFunc(func(context.Context) (Session, error) { return newFakeSession(), nil })
	_, err := New(Config{}, nil, &fakeImages{}, &fakeSolver{}, nil)
	require.Error(t, err)
	_, err = New(Config{MaxAttempts: -1}, opener, &fakeImages{}, &fakeSolver{}, nil)
	require.Error(t, err)
	_, err = New(Config{PreSubmitDelay: -time.Second}, opener, &fakeImages{}, &fakeSolver{}, nil)
	require.Error(t, err)

	nav, err := New(Config{}, opener, &fakeImages{}, &fakeSolver{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, nav.cfg.URL)
	assert.Equal(t, 3, nav.cfg.MaxAttempts)
	assert.Equal(t, DefaultElements(), nav.cfg.Elements)
}

func TestElementsHelpers(t *testing.T) {
	t.Parallel()

	el := DefaultElements()
	assert.Equal(t, "#radlstProgram_0", el.ProgramOption(1))
	assert.Equal(t, el.Grading, el.ResultType(true))
	assert.Equal(t, el.NonGrading, el.ResultType(false))
}
