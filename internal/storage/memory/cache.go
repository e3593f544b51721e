package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// ErrEmptyCache is returned by Read before the first Write.
var ErrEmptyCache = errors.New("document cache is empty")

// DocumentCache holds the last written document.
type DocumentCache struct {
	mu     sync.Mutex
	markup []byte
	set    bool
	writes int
}

// NewDocumentCache returns an empty cache.
func NewDocumentCache() *DocumentCache {
	return &DocumentCache{}
}

// Write replaces the cached document.
func (c *DocumentCache) Write(_ context.Context, doc harvest.RawDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markup = append([]byte(nil), doc.Markup...)
	c.set = true
	c.writes++
	return nil
}

// Read returns a copy of the cached document.
func (c *DocumentCache) Read(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil, ErrEmptyCache
	}
	return append([]byte(nil), c.markup...), nil
}

// Writes reports how many documents have been cached.
func (c *DocumentCache) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}
