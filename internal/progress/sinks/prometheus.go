package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/progress"
)

// PrometheusSink exports harvesting progress metrics via Prometheus. It owns
// all collectors for runs and per-identifier outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	identifiers        *prometheus.CounterVec
	identifierDuration *prometheus.HistogramVec
	attempts           *prometheus.CounterVec
	rowsMerged         prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Total batch runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Total batch runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_active",
			Help: "Current number of running batches.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time per completed batch run.",
			Buckets: []float64{10, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"result"}),
		identifiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_identifiers_total",
			Help: "Identifiers processed partitioned by outcome.",
		}, []string{"outcome"}),
		identifierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_identifier_duration_seconds",
			Help:    "Time spent per identifier partitioned by outcome.",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 120},
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_submission_attempts_total",
			Help: "Form submissions partitioned by outcome.",
		}, []string{"outcome"}),
		rowsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_rows_merged_total",
			Help: "Rows appended to the result table.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.identifiers,
		s.identifierDuration,
		s.attempts,
		s.rowsMerged,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors for evt.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunCanceled:
		s.handleRunEvent(evt)
	case progress.StageAttempt:
		s.attempts.WithLabelValues(evt.Outcome).Inc()
	case progress.StageIdentifierDone:
		s.identifiers.WithLabelValues(evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.identifierDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
		if evt.Serial > 0 {
			s.rowsMerged.Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	var result string
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
		return
	case progress.StageRunDone:
		result = "finished"
	case progress.StageRunCanceled:
		result = harvest.LabelCanceled
	}
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
