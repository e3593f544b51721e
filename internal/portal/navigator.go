// Package portal submits the result form and retries CAPTCHA rejections.
//
// A retrieval walks SelectCategory -> FillForm -> AwaitCaptcha -> Submit. A
// rejected submission re-enters FillForm until the attempt cap; a wait that
// exceeds its budget is terminal for the identifier.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/clock/system"
	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// DefaultURL is the program selection page of the result portal.
const DefaultURL = "https://result.rgpv.ac.in/Result/ProgramSelect.aspx"

const (
	defaultMaxAttempts       = 3
	defaultObservationWindow = 500 * time.Millisecond
)

// Elements holds the CSS selectors of the portal form.
type Elements struct {
	ProgramOptionPrefix string `mapstructure:"program_option_prefix"`
	Identifier          string `mapstructure:"identifier"`
	Semester            string `mapstructure:"semester"`
	Grading             string `mapstructure:"grading"`
	NonGrading          string `mapstructure:"non_grading"`
	CaptchaImage        string `mapstructure:"captcha_image"`
	CaptchaInput        string `mapstructure:"captcha_input"`
	Submit              string `mapstructure:"submit"`
	// ResultMarker appears only on a rendered result page.
	ResultMarker string `mapstructure:"result_marker"`
}

// DefaultElements returns the selectors used by the live portal.
func DefaultElements() Elements {
	return Elements{
		ProgramOptionPrefix: "#radlstProgram_",
		Identifier:          "#ctl00_ContentPlaceHolder1_txtrollno",
		Semester:            "#ctl00_ContentPlaceHolder1_drpSemester",
		Grading:             "#ctl00_ContentPlaceHolder1_rbtnlstSType_0",
		NonGrading:          "#ctl00_ContentPlaceHolder1_rbtnlstSType_1",
		CaptchaImage:        `img[src*="CaptchaImage"]`,
		CaptchaInput:        "#ctl00_ContentPlaceHolder1_TextBox1",
		Submit:              "#ctl00_ContentPlaceHolder1_btnviewresult",
		ResultMarker:        "#ctl00_ContentPlaceHolder1_lblNameGrading",
	}
}

// ProgramOption returns the selector of the radio button for a 1-based program code.
func (e Elements) ProgramOption(program int) string {
	return e.ProgramOptionPrefix + strconv.Itoa(program-1)
}

// ResultType returns the selector of the grading or non-grading radio button.
func (e Elements) ResultType(grading bool) string {
	if grading {
		return e.Grading
	}
	return e.NonGrading
}

// Config tunes the navigator.
type Config struct {
	URL               string
	MaxAttempts       int
	PreSubmitDelay    time.Duration
	ObservationWindow time.Duration
	Elements          Elements
}

// Session is the browser surface the navigator needs.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	SetValue(ctx context.Context, sel, value string) error
	SelectOption(ctx context.Context, sel, value string) (bool, error)
	Attribute(ctx context.Context, sel, name string) (string, error)
	CookieHeader(ctx context.Context) (string, error)
	ResetDialogs()
	AwaitDialog(ctx context.Context, window time.Duration) (string, error)
	WaitTransition(ctx context.Context, marker, form string) error
	Document(ctx context.Context) (string, error)
	Close() error
}

// Opener starts a new browser session.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// ImageSource resolves the CAPTCHA image reference into bytes.
type ImageSource interface {
	Load(ctx context.Context, ref string, headers http.Header) ([]byte, error)
}

// Solver reads a CAPTCHA image.
type Solver interface {
	Solve(ctx context.Context, image []byte) string
}

// Navigator implements harvest.Navigator against the live portal.
type Navigator struct {
	cfg    Config
	opener Opener
	images ImageSource
	solver Solver
	logger *zap.Logger
	now    func() time.Time
	pause  func(ctx context.Context, d time.Duration) error
}

// New validates cfg, applies defaults and returns a Navigator.
func New(cfg Config, opener Opener, images ImageSource, solver Solver, logger *zap.Logger) (*Navigator, error) {
	if opener == nil {
		return nil, fmt.Errorf("browser opener is required")
	}
	if images == nil || solver == nil {
		return nil, fmt.Errorf("captcha source and solver are required")
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be >= 0")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PreSubmitDelay < 0 {
		return nil, fmt.Errorf("pre-submit delay must be >= 0")
	}
	if cfg.ObservationWindow <= 0 {
		cfg.ObservationWindow = defaultObservationWindow
	}
	if cfg.Elements == (Elements{}) {
		cfg.Elements = DefaultElements()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := system.New()
	return &Navigator{
		cfg:    cfg,
		opener: opener,
		images: images,
		solver: solver,
		logger: logger,
		now:    clk.Now,
		pause:  clk.Sleep,
	}, nil
}

type state int

const (
	stateSelectCategory state = iota
	stateFillForm
	stateAwaitCaptcha
	stateSubmit
	stateDone
)

func (s state) String() string {
	switch s {
	case stateSelectCategory:
		return "select_category"
	case stateFillForm:
		return "fill_form"
	case stateAwaitCaptcha:
		return "await_captcha"
	case stateSubmit:
		return "submit"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// retrieval is the mutable state of one Retrieve call.
type retrieval struct {
	identifier string
	sel        harvest.Selection
	session    Session
	logger     *zap.Logger

	current  harvest.Attempt
	started  time.Time
	attempts []harvest.Attempt
	doc      harvest.RawDocument
}

// Retrieve opens a browser, submits the form for identifier and returns the
// accepted result page together with the log of every attempt made.
func (n *Navigator) Retrieve(ctx context.Context, identifier string, sel harvest.Selection) (harvest.RawDocument, []harvest.Attempt, error) {
	if identifier == "" {
		return harvest.RawDocument{}, nil, fmt.Errorf("identifier is required")
	}
	if sel.Program < 1 {
		return harvest.RawDocument{}, nil, fmt.Errorf("program code must be >= 1, got %d", sel.Program)
	}
	session, err := n.opener.Open(ctx)
	if err != nil {
		return harvest.RawDocument{}, nil, fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			n.logger.Warn("failed to close browser session", zap.String("identifier", identifier), zap.Error(closeErr))
		}
	}()

	r := &retrieval{
		identifier: identifier,
		sel:        sel,
		session:    session,
		logger:     n.logger.With(zap.String("identifier", identifier)),
	}
	st := stateSelectCategory
	for st != stateDone {
		next, stepErr := n.step(ctx, r, st)
		if stepErr != nil {
			stepErr = asTimeout(stepErr)
			if errors.Is(stepErr, harvest.ErrNavigationTimeout) {
				n.finishAttempt(r, harvest.OutcomeTimedOut, "")
			}
			r.logger.Debug("retrieval stopped", zap.Stringer("state", st), zap.Error(stepErr))
			return harvest.RawDocument{}, r.attempts, stepErr
		}
		st = next
	}
	return r.doc, r.attempts, nil
}

func (n *Navigator) step(ctx context.Context, r *retrieval, st state) (state, error) {
	switch st {
	case stateSelectCategory:
		return n.selectCategory(ctx, r)
	case stateFillForm:
		return n.fillForm(ctx, r)
	case stateAwaitCaptcha:
		return n.awaitCaptcha(ctx, r)
	case stateSubmit:
		return n.submit(ctx, r)
	default:
		return stateDone, fmt.Errorf("unexpected navigator state %s", st)
	}
}

func (n *Navigator) selectCategory(ctx context.Context, r *retrieval) (state, error) {
	el := n.cfg.Elements
	if err := r.session.Navigate(ctx, n.cfg.URL); err != nil {
		return stateDone, err
	}
	if err := r.session.Click(ctx, el.ProgramOption(r.sel.Program)); err != nil {
		return stateDone, fmt.Errorf("choose program %d: %w", r.sel.Program, err)
	}
	if err := r.session.WaitVisible(ctx, el.Identifier); err != nil {
		return stateDone, err
	}
	return stateFillForm, nil
}

func (n *Navigator) fillForm(ctx context.Context, r *retrieval) (state, error) {
	r.current = harvest.Attempt{
		Identifier: r.identifier,
		Semester:   r.sel.Semester,
		Grading:    r.sel.Grading,
		Number:     len(r.attempts) + 1,
	}
	r.started = n.now()

	el := n.cfg.Elements
	if err := r.session.SetValue(ctx, el.Identifier, r.identifier); err != nil {
		return stateDone, err
	}
	found, err := r.session.SelectOption(ctx, el.Semester, r.sel.Semester)
	if err != nil {
		return stateDone, err
	}
	if !found {
		return stateDone, fmt.Errorf("semester %q: %w", r.sel.Semester, harvest.ErrOptionNotFound)
	}
	if err := r.session.Click(ctx, el.ResultType(r.sel.Grading)); err != nil {
		return stateDone, err
	}
	return stateAwaitCaptcha, nil
}

func (n *Navigator) awaitCaptcha(ctx context.Context, r *retrieval) (state, error) {
	el := n.cfg.Elements
	if err := r.session.WaitVisible(ctx, el.CaptchaImage); err != nil {
		return stateDone, err
	}
	src, err := r.session.Attribute(ctx, el.CaptchaImage, "src")
	if err != nil {
		return stateDone, err
	}
	r.current.Answer = n.solve(ctx, r, src)
	if err := r.session.SetValue(ctx, el.CaptchaInput, r.current.Answer); err != nil {
		return stateDone, err
	}
	return stateSubmit, nil
}

// solve never fails: an unreadable image yields an empty answer, which the
// portal rejects like any other wrong answer.
func (n *Navigator) solve(ctx context.Context, r *retrieval, src string) string {
	headers := http.Header{}
	cookie, err := r.session.CookieHeader(ctx)
	if err != nil {
		r.logger.Debug("could not read session cookies", zap.Error(err))
	} else if cookie != "" {
		headers.Set("Cookie", cookie)
	}
	img, err := n.images.Load(ctx, src, headers)
	if err != nil {
		r.logger.Warn("captcha image unavailable", zap.Int("attempt", r.current.Number), zap.Error(err))
		return ""
	}
	return n.solver.Solve(ctx, img)
}

func (n *Navigator) submit(ctx context.Context, r *retrieval) (state, error) {
	if err := n.pause(ctx, n.cfg.PreSubmitDelay); err != nil {
		return stateDone, err
	}
	r.session.ResetDialogs()
	if err := r.session.Click(ctx, n.cfg.Elements.Submit); err != nil {
		return stateDone, err
	}
	dialog, err := r.session.AwaitDialog(ctx, n.cfg.ObservationWindow)
	if err != nil {
		return stateDone, err
	}
	if dialog != "" {
		n.finishAttempt(r, harvest.OutcomeRejected, dialog)
		r.logger.Info("submission rejected",
			zap.Int("attempt", r.current.Number),
			zap.String("answer", r.current.Answer),
			zap.String("dialog", dialog))
		if len(r.attempts) >= n.cfg.MaxAttempts {
			return stateDone, fmt.Errorf("%d attempts: %w", len(r.attempts), harvest.ErrCaptchaRejected)
		}
		return stateFillForm, nil
	}

	// No dialog is not yet acceptance: the postback may still be in flight.
	if err := r.session.WaitTransition(ctx, n.cfg.Elements.ResultMarker, n.cfg.Elements.Submit); err != nil {
		return stateDone, fmt.Errorf("await result page: %w", err)
	}
	html, err := r.session.Document(ctx)
	if err != nil {
		return stateDone, err
	}
	n.finishAttempt(r, harvest.OutcomeAccepted, "")
	r.doc = harvest.RawDocument{
		Identifier: r.identifier,
		Markup:     []byte(html),
		FetchedAt:  n.now(),
	}
	r.logger.Info("submission accepted", zap.Int("attempt", r.current.Number))
	return stateDone, nil
}

func (n *Navigator) finishAttempt(r *retrieval, outcome harvest.Outcome, dialog string) {
	if r.current.Number == 0 {
		return
	}
	r.current.Outcome = outcome
	r.current.Dialog = dialog
	r.current.Duration = n.now().Sub(r.started)
	r.attempts = append(r.attempts, r.current)
	r.current = harvest.Attempt{}
}

func asTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, harvest.ErrNavigationTimeout) {
		return fmt.Errorf("%w: %w", harvest.ErrNavigationTimeout, err)
	}
	return err
}
