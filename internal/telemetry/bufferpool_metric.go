package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// BufferPoolMetrics holds all the metric instruments for the buffer pool.
type BufferPoolMetrics struct {
	HitsCounter               metric.Int64Counter
	MissesCounter             metric.Int64Counter
	EvictionsCounter          metric.Int64Counter
	DiskReadsCounter          metric.Int64Counter
	DiskWritesCounter         metric.Int64Counter
	PinnedFramesUpDownCounter metric.Int64UpDownCounter
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	hitsCounter, err := meter.Int64Counter(
		"gojopool.buffer.hits",
		metric.WithDescription("Page requests served from a cached frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	missesCounter, err := meter.Int64Counter(
		"gojopool.buffer.misses",
		metric.WithDescription("Page requests that had to load the page from its file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"gojopool.buffer.evictions",
		metric.WithDescription("Valid frames reclaimed by the clock."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskReadsCounter, err := meter.Int64Counter(
		"gojopool.buffer.disk_reads",
		metric.WithDescription("Pages read from files into the pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	diskWritesCounter, err := meter.Int64Counter(
		"gojopool.buffer.disk_writes",
		metric.WithDescription("Dirty pages written back to files."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinnedFramesUpDownCounter, err := meter.Int64UpDownCounter(
		"gojopool.buffer.pinned_frames",
		metric.WithDescription("Number of frames with a non-zero pin count."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitsCounter:               hitsCounter,
		MissesCounter:             missesCounter,
		EvictionsCounter:          evictionsCounter,
		DiskReadsCounter:          diskReadsCounter,
		DiskWritesCounter:         diskWritesCounter,
		PinnedFramesUpDownCounter: pinnedFramesUpDownCounter,
	}, nil
}

// NewNoopBufferPoolMetrics returns instruments that record nothing.
func NewNoopBufferPoolMetrics() *BufferPoolMetrics {
	m, _ := NewBufferPoolMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// The pool has no request context, so measurements are recorded against Background.

func (m *BufferPoolMetrics) Hit()       { m.HitsCounter.Add(context.Background(), 1) }
func (m *BufferPoolMetrics) Miss()      { m.MissesCounter.Add(context.Background(), 1) }
func (m *BufferPoolMetrics) Eviction()  { m.EvictionsCounter.Add(context.Background(), 1) }
func (m *BufferPoolMetrics) DiskRead()  { m.DiskReadsCounter.Add(context.Background(), 1) }
func (m *BufferPoolMetrics) DiskWrite() { m.DiskWritesCounter.Add(context.Background(), 1) }

// PinnedFrames adjusts the pinned-frame gauge by delta.
func (m *BufferPoolMetrics) PinnedFrames(delta int64) {
	if delta != 0 {
		m.PinnedFramesUpDownCounter.Add(context.Background(), delta)
	}
}
