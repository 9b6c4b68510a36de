// Package metrics provides Prometheus metrics for decoders, players, frame
// slots and camera sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "virtualcam"

var (
	decoderFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "frames_total",
		Help:      "Frames handed to sinks",
	}, []string{"sink"})

	decoderLoops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "loops_total",
		Help:      "Times a decoder restarted from the beginning of the video",
	}, []string{"sink"})

	decoderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "errors_total",
		Help:      "Decode tasks aborted by an error",
	}, []string{"sink"})

	decodersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "active",
		Help:      "Decode tasks currently running",
	})

	ffmpegStderr = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "stderr_lines_total",
		Help:      "Warning or worse lines written by ffmpeg, by level and codec",
	}, []string{"level", "component"})

	// Local cache for the CLI summary.
	decoderCache   = make(map[string]*DecoderStats)
	decoderCacheMu sync.RWMutex
)

// DecoderStats holds the cached counters for one sink label.
type DecoderStats struct {
	Frames float64
	Loops  float64
	Errors float64
	Active float64
}

// DecoderStarted records a task start for sink.
func DecoderStarted(sink string) {
	decodersActive.Inc()
	updateCache(sink, func(m *DecoderStats) { m.Active++ })
}

// DecoderStopped records a task exit for sink.
func DecoderStopped(sink string) {
	decodersActive.Dec()
	updateCache(sink, func(m *DecoderStats) { m.Active-- })
}

// DecoderFrame counts one frame delivered to sink.
func DecoderFrame(sink string) {
	decoderFrames.WithLabelValues(sink).Inc()
	updateCache(sink, func(m *DecoderStats) { m.Frames++ })
}

// DecoderLoop counts one restart from the beginning of the video.
func DecoderLoop(sink string) {
	decoderLoops.WithLabelValues(sink).Inc()
	updateCache(sink, func(m *DecoderStats) { m.Loops++ })
}

// DecoderError counts one aborted task.
func DecoderError(sink string) {
	decoderErrors.WithLabelValues(sink).Inc()
	updateCache(sink, func(m *DecoderStats) { m.Errors++ })
}

// FFmpegStderrLine counts one ffmpeg diagnostic. component is empty for
// lines not tied to a codec or filter.
func FFmpegStderrLine(level, component string) {
	ffmpegStderr.WithLabelValues(level, component).Inc()
}

// DeleteDecoderMetrics drops the labeled series and cache entry for sink.
func DeleteDecoderMetrics(sink string) {
	decoderFrames.DeleteLabelValues(sink)
	decoderLoops.DeleteLabelValues(sink)
	decoderErrors.DeleteLabelValues(sink)

	decoderCacheMu.Lock()
	delete(decoderCache, sink)
	decoderCacheMu.Unlock()
}

// GetDecoderMetrics returns a copy of the cached counters for sink.
func GetDecoderMetrics(sink string) *DecoderStats {
	decoderCacheMu.RLock()
	defer decoderCacheMu.RUnlock()
	if m, ok := decoderCache[sink]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllDecoderMetrics returns copies of every cached entry.
func GetAllDecoderMetrics() map[string]*DecoderStats {
	decoderCacheMu.RLock()
	defer decoderCacheMu.RUnlock()
	result := make(map[string]*DecoderStats, len(decoderCache))
	for sink, m := range decoderCache {
		dup := *m
		result[sink] = &dup
	}
	return result
}

func updateCache(sink string, update func(*DecoderStats)) {
	decoderCacheMu.Lock()
	defer decoderCacheMu.Unlock()
	m, ok := decoderCache[sink]
	if !ok {
		m = &DecoderStats{}
		decoderCache[sink] = m
	}
	update(m)
}
