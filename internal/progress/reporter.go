package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls how the Reporter delivers events.
//   - SinkTimeout: per-sink timeout for each delivery (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const defaultSinkTimeout = 10 * time.Second

// Reporter delivers each event to every sink before Emit returns. Sink
// failures are logged and never reach the emitter.
type Reporter struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
	closed atomic.Bool
	mu     sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewReporter returns a Reporter fanning out to sinks.
func NewReporter(cfg Config, sinks ...Sink) *Reporter {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
	}
}

// Emit validates evt and hands it to each sink in registration order.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.cfg.BaseContext, r.cfg.SinkTimeout)
		if err := sink.Consume(ctx, evt); err != nil {
			r.logger.Warn("progress sink consume failed", zap.String("stage", string(evt.Stage)), zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink once. Later calls return the first result.
func (r *Reporter) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.mu.Lock()
		defer r.mu.Unlock()
		var failed int
		for _, sink := range r.sinks {
			if sink == nil {
				continue
			}
			if err := sink.Close(ctx); err != nil {
				failed++
				r.logger.Warn("progress sink close failed", zap.Error(err))
			}
		}
		if failed > 0 {
			r.closeErr = fmt.Errorf("%d progress sinks failed to close", failed)
		}
	})
	return r.closeErr
}
