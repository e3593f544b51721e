package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/result-harvester/internal/fetcher/colly"
)

type fakeEngine struct {
	text  string
	err   error
	calls int
	last  []byte
}

func (f *fakeEngine) Recognize(_ context.Context, img []byte) (string, error) {
	f.calls++
	f.last = img
	return f.text, f.err
}

func colourPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		img.Set(x, 1, color.RGBA{R: 10, G: 10, B: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessProducesSingleChannel(t *testing.T) {
	t.Parallel()

	out, err := Preprocess(colourPNG(t))
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	_, ok := decoded.(*image.Gray)
	assert.True(t, ok, "expected *image.Gray, got %T", decoded)
	assert.Equal(t, image.Rect(0, 0, 4, 2), decoded.Bounds())
}

func TestPreprocessRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Preprocess(nil)
	assert.Error(t, err)
	_, err = Preprocess([]byte("not an image"))
	assert.Error(t, err)
}

func TestSolveSanitizesEngineOutput(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{text: "  a1b-2 c\n"}
	s := NewSolver(engine, nil)
	got := s.Solve(context.Background(), colourPNG(t))
	assert.Equal(t, "A1B2C", got)
	assert.Equal(t, 1, engine.calls)
}

func TestSolveIsDeterministic(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{text: "XY12"}
	s := NewSolver(engine, nil)
	img := colourPNG(t)
	first := s.Solve(context.Background(), img)
	firstInput := append([]byte(nil), engine.last...)
	second := s.Solve(context.Background(), img)
	assert.Equal(t, first, second)
	assert.Equal(t, firstInput, engine.last)
}

func TestSolveDegradesToEmpty(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{text: "ABC"}
	s := NewSolver(engine, nil)
	assert.Equal(t, "", s.Solve(context.Background(), []byte("garbage")))
	assert.Zero(t, engine.calls)

	failing := NewSolver(&fakeEngine{err: errors.New("tesseract down")}, nil)
	assert.Equal(t, "", failing.Solve(context.Background(), colourPNG(t)))

	var nilSolver *Solver
	assert.Equal(t, "", nilSolver.Solve(context.Background(), colourPNG(t)))
}

func TestSanitizeAlphabet(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "   ", "héllo wörld", "AB CD\t12", "!@#$%^&*()", "ｚ９", "q0O"}
	for _, in := range inputs {
		out := Sanitize(in)
		for _, r := range out {
			assert.True(t, strings.ContainsRune(Alphabet, r), "rune %q from %q outside alphabet", r, in)
		}
	}
	assert.Equal(t, "ABCD12", Sanitize("AB CD\t12"))
	assert.Equal(t, "", Sanitize("!@#"))
}

type fakeFetcher struct {
	req  collyfetcher.Request
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	f.req = req
	return collyfetcher.Response{Body: f.body}, f.err
}

func TestSourceLoadInlineAndRemote(t *testing.T) {
	t.Parallel()

	img := colourPNG(t)
	encoded := base64.StdEncoding.EncodeToString(img)
	fetcher := &fakeFetcher{body: img}
	src := NewSource(fetcher)

	got, err := src.Load(context.Background(), "data:image/png;base64,"+encoded, nil)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	got, err = src.Load(context.Background(), encoded, nil)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	headers := http.Header{"Cookie": {"sid=1"}}
	got, err = src.Load(context.Background(), "https://portal.example/CaptchaImage.axd?guid=9", headers)
	require.NoError(t, err)
	assert.Equal(t, img, got)
	assert.Equal(t, "https://portal.example/CaptchaImage.axd?guid=9", fetcher.req.URL)
	assert.Equal(t, "sid=1", fetcher.req.Headers.Get("Cookie"))
}

func TestSourceLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := NewSource(nil).Load(context.Background(), "", nil)
	assert.Error(t, err)
	_, err = NewSource(nil).Load(context.Background(), "https://portal.example/img", nil)
	assert.Error(t, err)
	_, err = NewSource(&fakeFetcher{err: errors.New("404")}).Load(context.Background(), "http://x/img", nil)
	assert.Error(t, err)
	_, err = DecodeInline("data:image/png;base64,!!!")
	assert.Error(t, err)
}
