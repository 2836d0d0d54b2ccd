package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application counters. Hot-path code touches only the
// atomics; Prometheus reads them lazily through GaugeFunc collectors on a
// private registry.
type Metrics struct {
	FramesCaptured  atomic.Uint64
	CameraReadError atomic.Uint64
	InferencePasses atomic.Uint64
	FacesDetected   atomic.Uint64
	AlertsTriggered atomic.Uint64
	BatchesDropped  atomic.Uint64
	FramesStreamed  atomic.Uint64
	EncodeErrors    atomic.Uint64
	ActiveClients   atomic.Int64
	PersistErrors   atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerCollectors()
	return m
}

func (m *Metrics) registerCollectors() {
	counters := []struct {
		name string
		help string
		load func() float64
	}{
		{"maskserver_frames_captured_total", "Total frames read from the camera", func() float64 { return float64(m.FramesCaptured.Load()) }},
		{"maskserver_camera_read_errors_total", "Total transient camera read failures", func() float64 { return float64(m.CameraReadError.Load()) }},
		{"maskserver_inference_passes_total", "Total frames that went through face detection", func() float64 { return float64(m.InferencePasses.Load()) }},
		{"maskserver_faces_detected_total", "Total faces detected across all inference passes", func() float64 { return float64(m.FacesDetected.Load()) }},
		{"maskserver_alerts_triggered_total", "Total mask violation alerts triggered", func() float64 { return float64(m.AlertsTriggered.Load()) }},
		{"maskserver_batches_dropped_total", "Detection batches dropped because the dispatch queue was full", func() float64 { return float64(m.BatchesDropped.Load()) }},
		{"maskserver_frames_streamed_total", "Total MJPEG chunks written to stream consumers", func() float64 { return float64(m.FramesStreamed.Load()) }},
		{"maskserver_encode_errors_total", "Total stream frame encode failures", func() float64 { return float64(m.EncodeErrors.Load()) }},
		{"maskserver_persist_errors_total", "Total best-effort persistence failures", func() float64 { return float64(m.PersistErrors.Load()) }},
	}

	for _, c := range counters {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: c.name, Help: c.help},
			c.load,
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "maskserver_websocket_clients",
			Help: "Currently connected websocket clients",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
