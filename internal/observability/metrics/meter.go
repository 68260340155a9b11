// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// global meter provider; exporters are configured by the process
	return &Meter{
		meter: otel.Meter(serviceName),
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// BackendInstruments are the REST client counters.
type BackendInstruments struct {
	Requests        metric.Int64Counter
	Refreshes       metric.Int64Counter
	RefreshFailures metric.Int64Counter
	Latency         metric.Float64Histogram
}

// NewBackendInstruments creates the REST client instruments on m. A nil m
// uses the global meter provider.
func NewBackendInstruments(m *Meter) (*BackendInstruments, error) {
	if m == nil {
		m = &Meter{meter: otel.Meter("github.com/trialiq/console/internal/backend")}
	}
	requests, err := m.CreateCounter("backend.requests", "REST backend requests by method and status class")
	if err != nil {
		return nil, err
	}
	refreshes, err := m.CreateCounter("backend.token_refreshes", "Token refresh calls sent to the backend")
	if err != nil {
		return nil, err
	}
	failures, err := m.CreateCounter("backend.token_refresh_failures", "Token refresh calls that forced a sign-out")
	if err != nil {
		return nil, err
	}
	latency, err := m.CreateHistogram("backend.request.duration", "REST backend request latency", "s")
	if err != nil {
		return nil, err
	}
	return &BackendInstruments{
		Requests:        requests,
		Refreshes:       refreshes,
		RefreshFailures: failures,
		Latency:         latency,
	}, nil
}

// RecordRequest counts one backend round trip.
func (b *BackendInstruments) RecordRequest(ctx context.Context, method string, status int, seconds float64) {
	if b == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status_class", statusClass(status)),
	)
	b.Requests.Add(ctx, 1, attrs)
	b.Latency.Record(ctx, seconds, attrs)
}

// RecordRefresh counts one refresh call and its outcome.
func (b *BackendInstruments) RecordRefresh(ctx context.Context, ok bool) {
	if b == nil {
		return
	}
	b.Refreshes.Add(ctx, 1)
	if !ok {
		b.RefreshFailures.Add(ctx, 1)
	}
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", status/100)
}
