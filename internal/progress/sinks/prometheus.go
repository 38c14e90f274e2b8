package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/listing-enricher/internal/progress"
)

// PrometheusSink exports run and item counters from the event stream.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	items        *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	queueSize    prometheus.Gauge

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_runs_completed_total",
			Help: "Total runs finished partitioned by terminal status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_runs_running",
			Help: "Current number of running runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_items_total",
			Help: "Item outcomes partitioned by result and failure reason.",
		}, []string{"result", "reason"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enricher_item_duration_seconds",
			Help:    "Wall time per item.",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"result"}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_queue_size",
			Help: "Identifiers in the most recent run.",
		}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runDuration,
		s.items, s.itemDuration, s.queueSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStatus:
			s.runStatus(evt)
		case progress.StageRunProgress:
			if evt.Index == 1 {
				s.queueSize.Set(float64(evt.Total))
			}
		case progress.StageItemDone:
			result, reason := "ok", ""
			if !evt.OK {
				result, reason = "failed", reasonLabel(evt.Error)
			}
			s.items.WithLabelValues(result, reason).Inc()
			if evt.Dur > 0 {
				s.itemDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

func (s *PrometheusSink) runStatus(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.Status == progress.StatusStarted {
		s.runsStarted.Inc()
		if _, ok := s.running[evt.RunID]; !ok {
			s.running[evt.RunID] = struct{}{}
			s.runsRunning.Inc()
		}
		return
	}
	if !evt.Terminal() {
		return
	}
	s.runsCompleted.WithLabelValues(string(evt.Status)).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(string(evt.Status)).Observe(evt.Dur.Seconds())
	}
	if evt.Status == progress.StatusInfo {
		s.queueSize.Set(0)
	}
	if _, ok := s.running[evt.RunID]; ok {
		delete(s.running, evt.RunID)
		s.runsRunning.Dec()
	}
}

// reasonLabel keeps the reason label bounded.
func reasonLabel(reason string) string {
	switch {
	case reason == "timeout", reason == "no_data", reason == "asin_watchdog_timeout", reason == "canceled":
		return reason
	case strings.HasPrefix(reason, "write row"):
		return "write_failed"
	case strings.HasPrefix(reason, "open session"):
		return "session_failed"
	}
	return "other"
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
