// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the workflow engine's Prometheus collectors:
// step outcome counts, step duration, and retry counts, keyed by
// template and step name.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	stepOutcomes *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors. Primarily used
// by tests to ensure clean state between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus text
// format, for a caller's own mux to mount wherever it wants.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveStepOutcome records a step's terminal outcome and its wall-clock
// duration.
func ObserveStepOutcome(template, step, outcome string, duration time.Duration) {
	t := sanitizeLabel(template, "unknown")
	s := sanitizeLabel(step, "unknown")
	o := sanitizeLabel(outcome, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if stepOutcomes != nil {
		stepOutcomes.WithLabelValues(t, s, o).Inc()
	}
	if stepDuration != nil {
		stepDuration.WithLabelValues(t, s).Observe(durationSeconds(duration))
	}
}

// IncStepRetry increments the retry counter for a given template/step
// pair.
func IncStepRetry(template, step string) {
	t := sanitizeLabel(template, "unknown")
	s := sanitizeLabel(step, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if stepRetries != nil {
		stepRetries.WithLabelValues(t, s).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metalforge",
		Subsystem: "workflow",
		Name:      "step_outcomes_total",
		Help:      "Total workflow step executions grouped by template, step, and outcome.",
	}, []string{"template", "step", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metalforge",
		Subsystem: "workflow",
		Name:      "step_duration_seconds",
		Help:      "Duration of a workflow step from its start to its terminal outcome, including all attempts, by template and step.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"template", "step"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metalforge",
		Subsystem: "workflow",
		Name:      "step_retries_total",
		Help:      "Total number of retry attempts by template and step.",
	}, []string{"template", "step"})

	registry.MustRegister(outcomes, duration, retries)

	reg = registry
	stepOutcomes = outcomes
	stepDuration = duration
	stepRetries = retries
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
