package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// Merger turns a result document into a table row and mirrors it.
type Merger struct {
	parser  harvest.Parser
	records harvest.RecordStore
	mirror  harvest.RecordMirror
	logger  *zap.Logger
}

// NewMerger returns a Merger. mirror may be nil.
func NewMerger(parser harvest.Parser, records harvest.RecordStore, mirror harvest.RecordMirror, logger *zap.Logger) (*Merger, error) {
	if parser == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{parser: parser, records: records, mirror: mirror, logger: logger.Named("merge")}, nil
}

// Merge parses markup and merges the record, for documents saved outside a
// batch. The mirror, if any, receives the row under runID.
func (m *Merger) Merge(ctx context.Context, runID string, markup []byte) (Result, error) {
	res, err := m.merge(ctx, runID, markup)
	res.Err = err
	res.Label = harvest.Classify(err)
	if err == nil && res.NotFound {
		res.Label = harvest.LabelNotFound
	}
	return res, err
}

func (m *Merger) merge(ctx context.Context, runID string, markup []byte) (Result, error) {
	var res Result
	record, err := m.parser.Parse(markup)
	if err != nil {
		return res, fmt.Errorf("parse document: %w", err)
	}
	res.NotFound = record.NotFound
	serial, err := m.records.Merge(ctx, record)
	if err != nil {
		return res, err
	}
	res.Serial = serial
	if m.mirror != nil {
		if err := m.mirror.StoreRecord(ctx, runID, serial, record); err != nil {
			m.logger.Warn("mirror row failed", zap.Int("serial", serial), zap.Error(err))
		}
	}
	return res, nil
}
