// Package tesseract implements captcha.Engine with libtesseract via gosseract.
// It requires cgo and the tesseract shared libraries at build time.
package tesseract

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/JakeFAU/result-harvester/internal/captcha"
)

// Config selects the tesseract language data.
type Config struct {
	Language       string
	TessdataPrefix string
}

// Engine runs single-word recognition restricted to captcha.Alphabet.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New configures a gosseract client for CAPTCHA text.
func New(cfg Config) (*Engine, error) {
	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		client.TessdataPrefix = cfg.TessdataPrefix
	}
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("set tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_WORD); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(captcha.Alphabet); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("set character whitelist: %w", err)
	}
	return &Engine{client: client}, nil
}

// Recognize returns the raw tesseract output for img.
func (e *Engine) Recognize(_ context.Context, img []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("load captcha image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize captcha: %w", err)
	}
	return text, nil
}

// Close releases the tesseract handle.
func (e *Engine) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("close tesseract client: %w", err)
	}
	return nil
}
