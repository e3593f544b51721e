package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// DefaultCachePath is the working copy of the last accepted result page.
const DefaultCachePath = "result.html"

// DocumentCache keeps the last accepted document in a single file that is
// overwritten on every write and read back once for parsing.
type DocumentCache struct {
	path string
}

// NewDocumentCache returns a cache backed by path, creating its directory.
func NewDocumentCache(path string) (*DocumentCache, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultCachePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DocumentCache{path: path}, nil
}

// Path reports the cache file location.
func (c *DocumentCache) Path() string {
	return c.path
}

// Write replaces the cached document with doc.
func (c *DocumentCache) Write(_ context.Context, doc harvest.RawDocument) error {
	if err := writeFileAtomic(c.path, doc.Markup); err != nil {
		return fmt.Errorf("cache document for %s: %w", doc.Identifier, err)
	}
	return nil
}

// Read returns the cached document.
func (c *DocumentCache) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read cached document: %w", err)
	}
	return data, nil
}
