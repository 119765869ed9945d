// Package metrics records relay activity through the OpenTelemetry metrics
// API. Tests build a Metrics against their own provider; production installs
// the Prometheus bridge with InitProvider.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/harunnryd/callrelay"

// Direction values used on frame and decode error counters.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Metrics holds the relay's instruments. Methods are safe on a nil receiver.
type Metrics struct {
	ActiveCalls       metric.Int64UpDownCounter
	Calls             metric.Int64Counter
	Frames            metric.Int64Counter
	DecodeErrors      metric.Int64Counter
	Interruptions     metric.Int64Counter
	TruncateOffset    metric.Int64Histogram
	RecordingDuration metric.Float64Histogram
	AIDialDuration    metric.Float64Histogram
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveCalls, err = m.Int64UpDownCounter("callrelay.calls.active",
		metric.WithDescription("Calls currently being relayed."),
	); err != nil {
		return nil, err
	}
	if met.Calls, err = m.Int64Counter("callrelay.calls.total",
		metric.WithDescription("Calls relayed, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("callrelay.frames",
		metric.WithDescription("Audio frames relayed, by direction."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("callrelay.decode_errors",
		metric.WithDescription("Audio chunks dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("callrelay.interruptions",
		metric.WithDescription("Assistant utterances cut short by the caller."),
	); err != nil {
		return nil, err
	}
	if met.TruncateOffset, err = m.Int64Histogram("callrelay.truncate.offset",
		metric.WithDescription("Playback offset at which assistant audio was truncated."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("callrelay.recording.duration",
		metric.WithDescription("Length of written call recordings."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.AIDialDuration, err = m.Float64Histogram("callrelay.ai.dial.duration",
		metric.WithDescription("Time to open a speech AI session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns instruments bound to a no-op provider.
func Discard() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) CallStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, 1)
}

// CallEnded records the call outcome: "completed", "ai_closed" or "failed".
func (m *Metrics) CallEnded(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, -1)
	m.Calls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Frame(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) DecodeError(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) Interruption(ctx context.Context, offsetMS int64) {
	if m == nil {
		return
	}
	m.Interruptions.Add(ctx, 1)
	m.TruncateOffset.Record(ctx, offsetMS)
}

func (m *Metrics) RecordingWritten(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordingDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) AIDialed(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AIDialDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
