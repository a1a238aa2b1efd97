package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/pool"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the data point carrying attrs.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, attrs)
	return 0
}

func TestRecordRoute(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordRoute(capture.OpWrite, true)
	m.RecordRoute(capture.OpWrite, true)
	m.RecordRoute(capture.OpWrite, false)
	m.RecordRoute(capture.OpFind, false)

	rm := collect(t, reader)
	tests := []struct {
		op, route string
		want      int64
	}{
		{"write", "session", 2},
		{"write", "passthrough", 1},
		{"find", "passthrough", 1},
	}
	for _, tt := range tests {
		got := sumValue(t, rm, "demo9p.router.ops",
			attribute.String("op", tt.op), attribute.String("route", tt.route))
		if got != tt.want {
			t.Errorf("ops{op=%s,route=%s} = %d, want %d", tt.op, tt.route, got, tt.want)
		}
	}
}

func TestRecordSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSessions(1)
	m.RecordSessions(1)
	m.RecordSessions(-1)

	if got := sumValue(t, collect(t, reader), "demo9p.sessions.active"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestListener(t *testing.T) {
	m, reader := newTestMetrics(t)
	l := NewListener(m)

	l.OnFrameProcessed("demo_0001.tga")
	l.OnFrameProcessed("demo_0002.tga")
	l.OnFrameSaved("demo_0001.png")
	l.OnAudioBufferWriteout()
	l.OnAudioBuffer(100, 1000)
	l.OnAudioBuffer(300, 1000)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "demo9p.frames.processed"); got != 2 {
		t.Errorf("frames processed = %d, want 2", got)
	}
	if got := sumValue(t, rm, "demo9p.frames.saved"); got != 1 {
		t.Errorf("frames saved = %d, want 1", got)
	}
	if got := sumValue(t, rm, "demo9p.audio.flushes"); got != 1 {
		t.Errorf("audio flushes = %d, want 1", got)
	}

	met := findMetric(rm, "demo9p.audio.buffer.occupied")
	if met == nil {
		t.Fatal("buffer gauge not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 300 {
		t.Errorf("buffer gauge = %+v", met.Data)
	}
}

func TestObservePool(t *testing.T) {
	m, reader := newTestMetrics(t)
	p := pool.New[byte]()
	if err := m.ObservePool("frames", p.Stats); err != nil {
		t.Fatalf("ObservePool: %v", err)
	}

	p.Release(p.Acquire(16))
	p.Acquire(8)

	rm := collect(t, reader)
	attr := attribute.String("pool", "frames")
	if got := sumValue(t, rm, "demo9p.pool.allocations", attr); got != 1 {
		t.Errorf("allocations = %d, want 1", got)
	}
	if got := sumValue(t, rm, "demo9p.pool.reuses", attr); got != 1 {
		t.Errorf("reuses = %d, want 1", got)
	}
}
