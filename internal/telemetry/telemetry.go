// Package telemetry holds the OpenTelemetry instruments recorded by the
// matching service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/spigell/md-matcher"

// Match outcomes used as the "outcome" attribute.
const (
	OutcomeMatched    = "matched"
	OutcomeNoEligible = "no_eligible"
	OutcomeAssembly   = "assembly_error"
	OutcomeCompletion = "completion_error"
	OutcomeParse      = "parse_error"
	OutcomeError      = "error"
)

// Metrics holds the match instruments.
type Metrics struct {
	MatchCount        metric.Int64Counter
	MatchDuration     metric.Float64Histogram
	ShortlistSize     metric.Int64Histogram
	EntriesDropped    metric.Int64Counter
	ModelFallbacks    metric.Int64Counter
	SoftFallbackCount metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter yields no-op
// instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	matchCount, err := meter.Int64Counter(
		"md_matcher.match.count",
		metric.WithDescription("Number of match requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	matchDuration, err := meter.Float64Histogram(
		"md_matcher.match.duration",
		metric.WithDescription("Match request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	shortlistSize, err := meter.Int64Histogram(
		"md_matcher.shortlist.size",
		metric.WithDescription("Directors sent to the model per request"),
	)
	if err != nil {
		return nil, err
	}

	entriesDropped, err := meter.Int64Counter(
		"md_matcher.response.entries_dropped",
		metric.WithDescription("Model response entries dropped by validation"),
	)
	if err != nil {
		return nil, err
	}

	modelFallbacks, err := meter.Int64Counter(
		"md_matcher.completion.fallbacks",
		metric.WithDescription("Completions served by the fallback model"),
	)
	if err != nil {
		return nil, err
	}

	softFallbacks, err := meter.Int64Counter(
		"md_matcher.selection.soft_fallbacks",
		metric.WithDescription("Selections where the soft filters were abandoned"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		MatchCount:        matchCount,
		MatchDuration:     matchDuration,
		ShortlistSize:     shortlistSize,
		EntriesDropped:    entriesDropped,
		ModelFallbacks:    modelFallbacks,
		SoftFallbackCount: softFallbacks,
	}, nil
}

// Observation is the data recorded for one match request.
type Observation struct {
	Outcome      string
	Duration     time.Duration
	Shortlist    int
	Dropped      int
	Fallback     bool
	SoftFallback bool
}

// Record writes one observation. Safe on a nil receiver.
func (m *Metrics) Record(ctx context.Context, o Observation) {
	if m == nil {
		return
	}
	outcome := metric.WithAttributes(attribute.String("outcome", o.Outcome))
	m.MatchCount.Add(ctx, 1, outcome)
	m.MatchDuration.Record(ctx, float64(o.Duration)/float64(time.Millisecond), outcome)
	if o.Shortlist > 0 {
		m.ShortlistSize.Record(ctx, int64(o.Shortlist))
	}
	if o.Dropped > 0 {
		m.EntriesDropped.Add(ctx, int64(o.Dropped))
	}
	if o.Fallback {
		m.ModelFallbacks.Add(ctx, 1)
	}
	if o.SoftFallback {
		m.SoftFallbackCount.Add(ctx, 1)
	}
}

// Provider is an in-process meter provider whose readings can be pulled on
// demand, e.g. by the HTTP stats endpoint.
type Provider struct {
	*sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewProvider creates a Provider backed by a manual reader.
func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	return &Provider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:        reader,
	}
}

// Metrics creates the match instruments on this provider.
func (p *Provider) Metrics() (*Metrics, error) {
	return NewMetrics(p.Meter(meterName))
}

// Collect returns the current readings.
func (p *Provider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := p.reader.Collect(ctx, &rm)
	return rm, err
}

// Summary flattens the current readings into "name{attrs}" keys. Sums report
// their value; histograms report count and sum under ".count" and ".sum".
func (p *Provider) Summary(ctx context.Context) (map[string]float64, error) {
	rm, err := p.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	return Flatten(rm), nil
}

// Flatten converts resource metrics to a flat map.
func Flatten(rm metricdata.ResourceMetrics) map[string]float64 {
	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[key(m.Name, dp.Attributes)] += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out[key(m.Name, dp.Attributes)] += dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					k := key(m.Name, dp.Attributes)
					out[k+".count"] += float64(dp.Count)
					out[k+".sum"] += float64(dp.Sum)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					k := key(m.Name, dp.Attributes)
					out[k+".count"] += float64(dp.Count)
					out[k+".sum"] += dp.Sum
				}
			}
		}
	}
	return out
}

func key(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	kvs := attrs.ToSlice()
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	s := name + "{"
	for i, kv := range kvs {
		if i > 0 {
			s += ","
		}
		s += string(kv.Key) + "=" + kv.Value.Emit()
	}
	return s + "}"
}

// Shutdown flushes and stops the provider, ignoring repeated shutdowns.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.MeterProvider.Shutdown(ctx); err != nil && !errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return err
	}
	return nil
}
