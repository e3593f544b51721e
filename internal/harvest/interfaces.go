package harvest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Navigator drives the portal for one identifier and returns the result page.
type Navigator interface {
	Retrieve(ctx context.Context, identifier string, sel Selection) (RawDocument, []Attempt, error)
}

// Parser converts a raw result page into a record.
type Parser interface {
	Parse(markup []byte) (Record, error)
}

// RecordStore merges records into the persistent table and returns the serial
// number assigned to the new row.
type RecordStore interface {
	Merge(ctx context.Context, record Record) (int, error)
}

// DocumentCache holds the last accepted document.
type DocumentCache interface {
	Write(ctx context.Context, doc RawDocument) error
	Read(ctx context.Context) ([]byte, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordMirror receives a copy of every merged row.
type RecordMirror interface {
	StoreRecord(ctx context.Context, runID string, serial int, record Record) error
}

// Throttle paces identifiers against the portal.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Archiver names archived documents by content.
type Archiver interface {
	ArchivePath(identifier string, markup []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
