// Package sha256 names archived result documents by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Hasher implements harvest.Archiver using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ArchivePath returns "<identifier>/<digest>.html". Identical documents for
// the same identifier share a path.
func (h *Hasher) ArchivePath(identifier string, markup []byte) (string, error) {
	digest, err := h.Hash(markup)
	if err != nil {
		return "", err
	}
	identifier = strings.Trim(strings.ReplaceAll(identifier, "..", ""), "/")
	if identifier == "" {
		identifier = "unknown"
	}
	return path.Join(identifier, digest+".html"), nil
}
