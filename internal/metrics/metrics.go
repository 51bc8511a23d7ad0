// Package metrics exposes pipeline counters via Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds counters for the capture-and-verify pipeline. Counters
// are plain atomics so hot paths (the acquisition loop) never touch a
// Prometheus mutex; the registry reads them lazily on scrape.
type Metrics struct {
	FramesCaptured atomic.Uint64
	CaptureErrors  atomic.Uint64

	GateChecks   atomic.Uint64
	GateNotReady atomic.Uint64

	Verifications       atomic.Uint64
	VerificationsPassed atomic.Uint64
	VerificationsFailed atomic.Uint64

	DetectionsTotal atomic.Uint64
	ArtifactErrors  atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name string
		help string
		src  *atomic.Uint64
	}{
		{"trayverify_frames_captured_total", "Frames read from the camera device", &m.FramesCaptured},
		{"trayverify_capture_errors_total", "Transient frame read failures", &m.CaptureErrors},
		{"trayverify_gate_checks_total", "Environment readiness checks performed", &m.GateChecks},
		{"trayverify_gate_not_ready_total", "Environment checks that reported not ready", &m.GateNotReady},
		{"trayverify_verifications_total", "Dispense verifications performed", &m.Verifications},
		{"trayverify_verifications_passed_total", "Verifications with an overall pass verdict", &m.VerificationsPassed},
		{"trayverify_verifications_failed_total", "Verifications with an overall fail verdict", &m.VerificationsFailed},
		{"trayverify_detections_total", "Pill instances returned by the detection engine", &m.DetectionsTotal},
		{"trayverify_artifact_errors_total", "Artifact writes that failed (best effort)", &m.ArtifactErrors},
	}

	for _, c := range counters {
		src := c.src
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(src.Load()) },
		))
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
