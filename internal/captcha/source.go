package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	collyfetcher "github.com/JakeFAU/result-harvester/internal/fetcher/colly"
)

// ImageFetcher downloads a CAPTCHA image URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Source resolves the src attribute of a CAPTCHA <img> into image bytes.
type Source struct {
	fetcher ImageFetcher
}

// NewSource builds a Source that downloads remote images with fetcher.
func NewSource(fetcher ImageFetcher) *Source {
	return &Source{fetcher: fetcher}
}

// Load returns the image bytes behind ref. Inline payloads (data: URIs or bare
// base64) are decoded locally; http(s) URLs are downloaded with headers.
func (s *Source) Load(ctx context.Context, ref string, headers http.Header) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("captcha image reference is empty")
	}
	if !isRemote(ref) {
		return DecodeInline(ref)
	}
	if s == nil || s.fetcher == nil {
		return nil, fmt.Errorf("no image fetcher configured for %s", ref)
	}
	resp, err := s.fetcher.Fetch(ctx, collyfetcher.Request{URL: ref, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("download captcha image: %w", err)
	}
	return resp.Body, nil
}

// DecodeInline decodes a base64 image payload, with or without a data: prefix.
func DecodeInline(payload string) ([]byte, error) {
	if idx := strings.LastIndex(payload, ","); idx >= 0 {
		payload = payload[idx+1:]
	}
	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode inline captcha: %w", err)
		}
	}
	return data, nil
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
