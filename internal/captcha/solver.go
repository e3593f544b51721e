// Package captcha turns CAPTCHA images into candidate answers. Recognition is
// best effort: wrong or empty answers are expected and left to the caller's
// retry policy.
package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Alphabet is the full set of characters a CAPTCHA answer may contain.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Engine recognises a single line of text in a grayscale PNG.
type Engine interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// Solver preprocesses images and delegates recognition to an Engine.
type Solver struct {
	engine Engine
	logger *zap.Logger
}

// NewSolver wires an Engine into a Solver.
func NewSolver(engine Engine, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{engine: engine, logger: logger}
}

// Solve returns the recognised answer for raw, restricted to Alphabet. It
// returns "" when the image cannot be decoded or recognition fails.
func (s *Solver) Solve(ctx context.Context, raw []byte) string {
	if s == nil || s.engine == nil {
		return ""
	}
	gray, err := Preprocess(raw)
	if err != nil {
		s.logger.Debug("captcha preprocessing failed", zap.Error(err))
		return ""
	}
	text, err := s.engine.Recognize(ctx, gray)
	if err != nil {
		s.logger.Debug("captcha recognition failed", zap.Error(err))
		return ""
	}
	return Sanitize(text)
}

// Preprocess decodes an image and re-encodes it as a single-channel grayscale PNG.
func Preprocess(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	desaturated := imaging.Grayscale(img)
	bounds := desaturated.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, desaturated, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode grayscale: %w", err)
	}
	return buf.Bytes(), nil
}

// Sanitize trims the engine output and drops every character outside Alphabet.
func Sanitize(text string) string {
	text = strings.ToUpper(strings.TrimSpace(text))
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
