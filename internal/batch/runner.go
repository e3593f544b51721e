// Package batch walks an identifier range through the portal, parser and
// table one identifier at a time. A failure never crosses an identifier
// boundary: it is logged, counted and the loop moves on.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/progress"
)

// Deps are the collaborators of a Runner. Archive, Mirror, Throttle and
// Progress are optional.
type Deps struct {
	Navigator harvest.Navigator
	Parser    harvest.Parser
	Records   harvest.RecordStore
	Cache     harvest.DocumentCache
	Archive   harvest.BlobStore
	Archiver  harvest.Archiver
	Mirror    harvest.RecordMirror
	Throttle  harvest.Throttle
	Progress  progress.Emitter
	Clock     harvest.Clock
	IDs       harvest.IDGenerator
}

// Config holds the form choices applied to every identifier.
type Config struct {
	Selection harvest.Selection
}

// Runner executes batches.
type Runner struct {
	cfg    Config
	deps   Deps
	merger *Merger
	logger *zap.Logger
}

// New validates deps and returns a Runner.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Navigator == nil:
		return nil, fmt.Errorf("navigator is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("document cache is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case deps.Archive != nil && deps.Archiver == nil:
		return nil, fmt.Errorf("archive requires an archiver")
	}
	if cfg.Selection.Program < 1 {
		return nil, fmt.Errorf("program must be >= 1")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	merger, err := NewMerger(deps.Parser, deps.Records, deps.Mirror, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, deps: deps, merger: merger, logger: logger.Named("batch")}, nil
}

// Run processes every identifier of r in ascending order. It returns an error
// only when the batch cannot start; per-identifier failures are reported in
// the Summary. Cancelling ctx stops the loop before the next identifier.
func (b *Runner) Run(ctx context.Context, r harvest.Range) (Summary, error) {
	if err := r.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid range: %w", err)
	}
	runID, err := b.deps.IDs.NewRunID()
	if err != nil {
		return Summary{}, err
	}
	identifiers := r.Identifiers()
	sum := Summary{RunID: runID, Total: len(identifiers), Started: b.deps.Clock.Now()}
	logger := b.logger.With(zap.String("run_id", runID.String()))
	logger.Info("batch started",
		zap.String("first", identifiers[0]),
		zap.String("last", identifiers[len(identifiers)-1]),
		zap.Int("total", sum.Total),
	)
	b.emit(progress.Event{RunID: progress.UUIDToBytes(runID), Stage: progress.StageRunStart})

	for _, identifier := range identifiers {
		if ctx.Err() != nil {
			sum.Canceled = true
			break
		}
		res := b.process(ctx, runID, identifier)
		sum.add(res)
		b.log(logger, res)
		if ctx.Err() != nil {
			sum.Canceled = true
			break
		}
	}

	sum.Finished = b.deps.Clock.Now()
	stage := progress.StageRunDone
	if sum.Canceled {
		stage = progress.StageRunCanceled
	}
	b.emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		Stage: stage,
		Dur:   sum.Finished.Sub(sum.Started),
	})
	logger.Info("batch finished",
		zap.Int("processed", sum.Processed),
		zap.Int("merged", sum.Merged),
		zap.Int("failed", sum.Failures()),
		zap.Bool("canceled", sum.Canceled),
	)
	return sum, nil
}

func (b *Runner) process(ctx context.Context, runID uuid.UUID, identifier string) (res Result) {
	started := b.deps.Clock.Now()
	res.Identifier = identifier
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic while processing %s: %v", identifier, p)
		}
		res.Label = label(ctx, res.Err)
		if res.Err == nil && res.NotFound {
			res.Label = harvest.LabelNotFound
		}
		res.Duration = b.deps.Clock.Now().Sub(started)
		b.emit(progress.Event{
			RunID:      progress.UUIDToBytes(runID),
			Stage:      progress.StageIdentifierDone,
			Identifier: identifier,
			Attempt:    res.Attempts,
			Outcome:    res.Label,
			Serial:     res.Serial,
			Dur:        res.Duration,
			Note:       errText(res.Err),
		})
	}()

	if b.deps.Throttle != nil {
		if err := b.deps.Throttle.Wait(ctx); err != nil {
			res.Err = err
			return res
		}
	}

	doc, attempts, err := b.deps.Navigator.Retrieve(ctx, identifier, b.cfg.Selection)
	res.Attempts = len(attempts)
	for _, a := range attempts {
		b.emit(progress.Event{
			RunID:      progress.UUIDToBytes(runID),
			Stage:      progress.StageAttempt,
			Identifier: identifier,
			Attempt:    a.Number,
			Outcome:    string(a.Outcome),
			Dur:        a.Duration,
			Note:       a.Dialog,
		})
	}
	if err != nil {
		res.Err = err
		return res
	}

	if err := b.deps.Cache.Write(ctx, doc); err != nil {
		res.Err = err
		return res
	}
	b.archive(ctx, doc)
	markup, err := b.deps.Cache.Read(ctx)
	if err != nil {
		res.Err = err
		return res
	}

	merged, err := b.merger.merge(ctx, runID.String(), markup)
	res.Serial, res.NotFound, res.Err = merged.Serial, merged.NotFound, err
	return res
}

// label classifies err. Only cancellation of the batch itself counts as
// canceled; a context error from a dead browser is an ordinary failure.
func label(ctx context.Context, err error) string {
	l := harvest.Classify(err)
	if l == harvest.LabelCanceled && ctx.Err() == nil {
		return harvest.LabelFailed
	}
	return l
}

func (b *Runner) archive(ctx context.Context, doc harvest.RawDocument) {
	if b.deps.Archive == nil {
		return
	}
	path, err := b.deps.Archiver.ArchivePath(doc.Identifier, doc.Markup)
	if err != nil {
		b.logger.Warn("archive path failed", zap.String("identifier", doc.Identifier), zap.Error(err))
		return
	}
	uri, err := b.deps.Archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(doc.Markup))
	if err != nil {
		b.logger.Warn("archive document failed", zap.String("identifier", doc.Identifier), zap.Error(err))
		return
	}
	b.logger.Debug("archived document", zap.String("identifier", doc.Identifier), zap.String("uri", uri))
}

func (b *Runner) emit(evt progress.Event) {
	if b.deps.Progress == nil {
		return
	}
	evt.TS = b.deps.Clock.Now()
	b.deps.Progress.Emit(evt)
}

func (b *Runner) log(logger *zap.Logger, res Result) {
	fields := []zap.Field{
		zap.String("identifier", res.Identifier),
		zap.String("outcome", res.Label),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", res.Duration),
	}
	switch res.Label {
	case harvest.LabelMerged, harvest.LabelNotFound:
		if res.Serial > 0 {
			fields = append(fields, zap.Int("serial", res.Serial))
		}
		logger.Info("identifier done", fields...)
	case harvest.LabelCanceled:
		logger.Info("identifier canceled", fields...)
	default:
		logger.Warn("identifier failed", append(fields, zap.Error(res.Err))...)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Result is the outcome of one identifier.
type Result struct {
	Identifier string
	Label      string
	Serial     int
	Attempts   int
	NotFound   bool
	Duration   time.Duration
	Err        error
}
