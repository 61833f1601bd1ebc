package testutils

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// StaticResolver implements ports.CredentialResolver with a fixed answer.
type StaticResolver struct {
	Credential domain.Credential
	Err        error

	mu      sync.Mutex
	sources []string
}

var _ ports.CredentialResolver = (*StaticResolver)(nil)

// NewStaticResolver returns a resolver that always yields key with origin.
func NewStaticResolver(key, origin string) *StaticResolver {
	return &StaticResolver{Credential: domain.Credential{Key: key, Origin: origin}}
}

// NewFailingResolver returns a resolver that never finds a key.
func NewFailingResolver() *StaticResolver {
	return &StaticResolver{
		Credential: domain.Credential{Origin: domain.OriginNotFound},
		Err:        domain.NewCredentialError("", []string{"static"}),
	}
}

// Resolve implements ports.CredentialResolver.
func (r *StaticResolver) Resolve(source string) (domain.Credential, error) {
	r.mu.Lock()
	r.sources = append(r.sources, source)
	r.mu.Unlock()
	return r.Credential, r.Err
}

// Sources returns the source hints passed to Resolve, in order.
func (r *StaticResolver) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}

// StaticRules implements ports.RulesLoader with fixed text.
type StaticRules struct {
	Text string

	mu    sync.Mutex
	loads int
}

var _ ports.RulesLoader = (*StaticRules)(nil)

// Load implements ports.RulesLoader.
func (r *StaticRules) Load(_ context.Context, enabled bool) *string {
	if !enabled {
		return nil
	}
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	text := r.Text
	return &text
}

// Loads returns how many enabled loads were served.
func (r *StaticRules) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// MetricSample is one recorded observation.
type MetricSample struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// RecordingMetrics implements ports.MetricsCollector in memory.
type RecordingMetrics struct {
	mu         sync.Mutex
	counters   []MetricSample
	gauges     []MetricSample
	histograms []MetricSample
}

var _ ports.MetricsCollector = (*RecordingMetrics)(nil)

// NewRecordingMetrics creates an empty collector.
func NewRecordingMetrics() *RecordingMetrics { return &RecordingMetrics{} }

// RecordLatency implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordLatency(operation string, d time.Duration, labels map[string]string) {
	m.RecordHistogram(operation, d.Seconds(), labels)
}

// RecordCounter implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, MetricSample{metric, value, maps.Clone(labels)})
}

// RecordGauge implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, MetricSample{metric, value, maps.Clone(labels)})
}

// RecordHistogram implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, MetricSample{metric, value, maps.Clone(labels)})
}

// CounterTotal sums counter increments for metric whose labels include
// every pair in match.
func (m *RecordingMetrics) CounterTotal(metric string, match map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, s := range m.counters {
		if s.Name == metric && labelsMatch(s.Labels, match) {
			total += s.Value
		}
	}
	return total
}

// Observations returns the histogram values recorded for metric.
func (m *RecordingMetrics) Observations(metric string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, s := range m.histograms {
		if s.Name == metric {
			out = append(out, s.Value)
		}
	}
	return out
}

func labelsMatch(labels, match map[string]string) bool {
	for k, v := range match {
		if labels[k] != v {
			return false
		}
	}
	return true
}
