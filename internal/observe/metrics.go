// Package observe provides the OpenTelemetry metrics of demo9p and the
// Prometheus bridge that exposes them on /metrics.
//
// Tests should build [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/pool"
)

// meterName is the instrumentation scope of every demo9p metric.
const meterName = "github.com/NERVsystems/demo9p"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	meter metric.Meter

	// RouterOps counts routed filesystem operations. Attributes:
	//   attribute.String("op", ...), attribute.String("route", "session"|"passthrough")
	RouterOps metric.Int64Counter

	// ActiveSessions tracks live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	FramesProcessed metric.Int64Counter
	FramesSaved     metric.Int64Counter
	AudioFlushes    metric.Int64Counter

	// AudioBufferOccupied is the fill level of the most recently reported
	// audio buffer, in samples.
	AudioBufferOccupied metric.Int64Gauge
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.RouterOps, err = m.Int64Counter("demo9p.router.ops",
		metric.WithDescription("Filesystem operations by operation and route."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("demo9p.sessions.active",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("demo9p.frames.processed",
		metric.WithDescription("Frames closed by the game and handed to the video handler."),
	); err != nil {
		return nil, err
	}
	if met.FramesSaved, err = m.Int64Counter("demo9p.frames.saved",
		metric.WithDescription("Frames written to the output directory."),
	); err != nil {
		return nil, err
	}
	if met.AudioFlushes, err = m.Int64Counter("demo9p.audio.flushes",
		metric.WithDescription("Audio buffer write-outs."),
	); err != nil {
		return nil, err
	}
	if met.AudioBufferOccupied, err = m.Int64Gauge("demo9p.audio.buffer.occupied",
		metric.WithDescription("Samples waiting in the last reported audio buffer."),
		metric.WithUnit("{sample}"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordRoute counts one routed operation.
func (m *Metrics) RecordRoute(op capture.Op, intercepted bool) {
	route := "passthrough"
	if intercepted {
		route = "session"
	}
	m.RouterOps.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("op", string(op)),
			attribute.String("route", route),
		),
	)
}

// RecordSessions adjusts the live session count.
func (m *Metrics) RecordSessions(delta int) {
	m.ActiveSessions.Add(context.Background(), int64(delta))
}

var _ capture.Recorder = (*Metrics)(nil)

// ObservePool reports the allocation and reuse counters of a buffer pool,
// read from stats at collection time. name tells pools apart.
func (m *Metrics) ObservePool(name string, stats func() pool.Stats) error {
	allocs, err := m.meter.Int64ObservableCounter("demo9p.pool.allocations",
		metric.WithDescription("Buffers allocated because the pool could not serve a request."),
	)
	if err != nil {
		return err
	}
	reuses, err := m.meter.Int64ObservableCounter("demo9p.pool.reuses",
		metric.WithDescription("Requests served from the pool."),
	)
	if err != nil {
		return err
	}

	attrs := metric.WithAttributes(attribute.String("pool", name))
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := stats()
		o.ObserveInt64(allocs, int64(st.Allocations), attrs)
		o.ObserveInt64(reuses, int64(st.Reuses), attrs)
		return nil
	}, allocs, reuses)
	return err
}
