package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-auditor/internal/progress"
)

// PrometheusSink aggregates progress events into pipeline metrics.
type PrometheusSink struct {
	auditsQueued    prometheus.Counter
	auditsFinished  *prometheus.CounterVec
	auditDuration   *prometheus.HistogramVec
	auditScore      prometheus.Histogram
	fetchDuration   prometheus.Histogram
	fetchBytes      prometheus.Counter
	fetchErrors     prometheus.Counter
	moduleDuration  *prometheus.HistogramVec
	moduleOutcomes  *prometheus.CounterVec
}

// NewPrometheusSink registers the audit metric set. A nil registerer
// falls back to the default registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		auditsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_requests_queued_total",
			Help: "Audit requests accepted onto the work queue.",
		}),
		auditsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_requests_finished_total",
			Help: "Audit requests reaching a terminal state, by status.",
		}, []string{"status"}),
		auditDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_request_duration_seconds",
			Help:    "End-to-end audit latency, by terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"status"}),
		auditScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_overall_score",
			Help:    "Distribution of overall audit scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_fetch_duration_seconds",
			Help:    "Headless page fetch latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_fetch_bytes_total",
			Help: "Bytes transferred by page fetches.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_fetch_errors_total",
			Help: "Page fetches that ended in an error.",
		}),
		moduleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_module_duration_seconds",
			Help:    "Analyzer latency, by module kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"module"}),
		moduleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_module_outcomes_total",
			Help: "Analyzer completions, by module kind and status.",
		}, []string{"module", "status"}),
	}

	for _, collector := range []prometheus.Collector{
		s.auditsQueued, s.auditsFinished, s.auditDuration, s.auditScore,
		s.fetchDuration, s.fetchBytes, s.fetchErrors,
		s.moduleDuration, s.moduleOutcomes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register audit metrics: %w", err)
		}
	}
	return s, nil
}

// Consume folds a batch of events into the metric set.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRequestQueued:
		s.auditsQueued.Inc()
	case progress.StageFetchDone:
		s.fetchDuration.Observe(evt.Dur.Seconds())
		if evt.Bytes > 0 {
			s.fetchBytes.Add(float64(evt.Bytes))
		}
	case progress.StageFetchError:
		s.fetchErrors.Inc()
	case progress.StageModuleDone:
		s.moduleDuration.WithLabelValues(string(evt.Module)).Observe(evt.Dur.Seconds())
		s.moduleOutcomes.WithLabelValues(string(evt.Module), string(evt.ModuleStatus)).Inc()
	case progress.StageRequestDone:
		s.auditsFinished.WithLabelValues(string(evt.RequestStatus)).Inc()
		s.auditDuration.WithLabelValues(string(evt.RequestStatus)).Observe(evt.Dur.Seconds())
		s.auditScore.Observe(float64(evt.Score))
	case progress.StageRequestError:
		s.auditsFinished.WithLabelValues("failed").Inc()
	}
}

// Close implements the Sink interface; metrics stay registered.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
