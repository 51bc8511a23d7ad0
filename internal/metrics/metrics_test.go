package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCountersAppearInExposition(t *testing.T) {
	m := New()
	m.FramesCaptured.Add(3)
	m.GateChecks.Add(1)
	m.VerificationsPassed.Add(2)

	body := scrape(t, m)

	for _, want := range []string{
		"trayverify_frames_captured_total 3",
		"trayverify_gate_checks_total 1",
		"trayverify_verifications_passed_total 2",
		"trayverify_capture_errors_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestScrapeReadsLiveValues(t *testing.T) {
	m := New()
	if !strings.Contains(scrape(t, m), "trayverify_detections_total 0") {
		t.Fatal("initial scrape should report zero")
	}
	m.DetectionsTotal.Add(5)
	if !strings.Contains(scrape(t, m), "trayverify_detections_total 5") {
		t.Fatal("scrape did not observe the updated counter")
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()
	a.FramesCaptured.Add(1)
	if strings.Contains(scrape(t, b), "trayverify_frames_captured_total 1") {
		t.Error("counter leaked across registries")
	}
}
