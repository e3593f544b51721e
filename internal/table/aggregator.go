package table

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// NotFoundPolicy decides what happens to not-found records.
type NotFoundPolicy string

// Supported not-found policies.
const (
	NotFoundSkip  NotFoundPolicy = "skip"
	NotFoundWrite NotFoundPolicy = "write"
)

// Valid reports whether p is a known policy.
func (p NotFoundPolicy) Valid() bool {
	return p == NotFoundSkip || p == NotFoundWrite
}

// Store loads and saves the whole table.
type Store interface {
	Load(ctx context.Context) (*Table, error)
	Save(ctx context.Context, t *Table) error
}

// Aggregator merges records into the persisted table, one load-merge-save
// cycle per record.
type Aggregator struct {
	store    Store
	title    string
	notFound NotFoundPolicy
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewAggregator validates the policy and returns an Aggregator over store.
func NewAggregator(store Store, title string, notFound NotFoundPolicy, logger *zap.Logger) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("table store is required")
	}
	if notFound == "" {
		notFound = NotFoundSkip
	}
	if !notFound.Valid() {
		return nil, fmt.Errorf("unknown not-found policy %q", notFound)
	}
	if title == "" {
		title = DefaultTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, title: title, notFound: notFound, logger: logger}, nil
}

// Merge appends record to the table and returns its serial number. Under the
// skip policy a not-found record leaves the table untouched and Merge returns
// harvest.ErrRecordNotFound.
func (a *Aggregator) Merge(ctx context.Context, record harvest.Record) (int, error) {
	if record.NotFound && a.notFound == NotFoundSkip {
		return 0, fmt.Errorf("skipping %s row: %w", harvest.NotFoundText, harvest.ErrRecordNotFound)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	subjects := record.SubjectSet().Keys()
	t, err := a.store.Load(ctx)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		t = New(a.title, subjects)
	case err != nil:
		return 0, fmt.Errorf("load table: %w", err)
	default:
		for _, subject := range subjects {
			if t.EnsureColumn(subject) {
				a.logger.Debug("added subject column", zap.String("subject", subject))
			}
		}
	}

	serial := t.NextSerial()
	if err := t.Append(t.RowFor(serial, record)); err != nil {
		return 0, fmt.Errorf("append row: %w", err)
	}
	if err := a.store.Save(ctx, t); err != nil {
		return 0, fmt.Errorf("save table: %w", err)
	}
	return serial, nil
}
