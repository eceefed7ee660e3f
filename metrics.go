package avplay

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine's prometheus collectors. A nil *Metrics is
// valid and disables instrumentation, so embedders that don't scrape pay
// nothing.
type Metrics struct {
	FramesDecoded  *prometheus.CounterVec
	FramesDropped  prometheus.Counter
	BufferDepth    *prometheus.GaugeVec
	PoolFreeBlocks prometheus.Gauge
	Seeks          prometheus.Counter
}

// NewMetrics creates unregistered collectors. Call [Metrics.Register] to
// expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avplay_frames_decoded_total",
			Help: "Frames decoded by the buffer loop, by stream.",
		}, []string{"stream"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avplay_frames_dropped_total",
			Help: "Video frames dropped by A/V sync for arriving late.",
		}),
		BufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "avplay_buffer_depth",
			Help: "Frames currently queued in the bounded buffers, by stream.",
		}, []string{"stream"}),
		PoolFreeBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "avplay_pool_free_blocks",
			Help: "Free blocks in the video frame-data pool.",
		}),
		Seeks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avplay_seeks_total",
			Help: "Completed SeekTo commands.",
		}),
	}
}

// Register registers all collectors on r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.FramesDecoded, m.FramesDropped, m.BufferDepth, m.PoolFreeBlocks, m.Seeks,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// nil-safe helpers used from the hot loops

func (m *Metrics) frameDecoded(stream string) {
	if m != nil {
		m.FramesDecoded.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) bufferDepth(stream string, depth int) {
	if m != nil {
		m.BufferDepth.WithLabelValues(stream).Set(float64(depth))
	}
}

func (m *Metrics) poolFree(free int) {
	if m != nil {
		m.PoolFreeBlocks.Set(float64(free))
	}
}

func (m *Metrics) seeked() {
	if m != nil {
		m.Seeks.Inc()
	}
}
