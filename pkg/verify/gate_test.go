package verify

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/pkg/detect"
)

// fakeScanner returns canned codes and records whether it was called.
type fakeScanner struct {
	codes []QRCode
	calls int
}

func (f *fakeScanner) Scan(img gocv.Mat) []QRCode {
	f.calls++
	return f.codes
}

func blackFrame(t *testing.T, width, height int) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { img.Close() })
	return img
}

func testGeometry() *Geometry {
	return &Geometry{HolderSpaces: []HolderSpace{
		{Label: "space_1", Polygon: []Point{{X: 40, Y: 40}, {X: 200, Y: 40}, {X: 200, Y: 200}, {X: 40, Y: 200}}},
	}}
}

func TestGateCheck(t *testing.T) {
	const holderID = "987"

	rightSide := []image.Point{image.Pt(500, 100), image.Pt(560, 100), image.Pt(560, 160), image.Pt(500, 160)}
	leftSide := []image.Point{image.Pt(10, 100), image.Pt(70, 100), image.Pt(70, 160), image.Pt(10, 160)}

	tests := []struct {
		name       string
		label      string
		codes      []QRCode
		wantReady  bool
		wantReason string
	}{
		{
			name:       "no tray short-circuits before the scanner",
			label:      "background",
			codes:      []QRCode{{Payload: holderID, Corners: rightSide}},
			wantReason: ReasonTrayNotDetected,
		},
		{
			name:       "tray but no code",
			label:      "tray",
			codes:      nil,
			wantReason: ReasonQRNotDetected,
		},
		{
			name:       "code without corners counts as not detected",
			label:      "tray",
			codes:      []QRCode{{Payload: holderID}},
			wantReason: ReasonQRNotDetected,
		},
		{
			name:       "code on the left half",
			label:      "tray",
			codes:      []QRCode{{Payload: holderID, Corners: leftSide}},
			wantReason: ReasonQRWrongSide,
		},
		{
			name:       "payload mismatch",
			label:      "tray",
			codes:      []QRCode{{Payload: "123", Corners: rightSide}},
			wantReason: "QR code mismatch. Expected 987, got 123",
		},
		{
			name:       "everything in place on an empty tray",
			label:      "tray",
			codes:      []QRCode{{Payload: holderID, Corners: rightSide}},
			wantReady:  true,
			wantReason: ReasonReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := blackFrame(t, 640, 480)
			classifier := &detect.MockClassifier{Label: tt.label, Score: 0.99}
			scanner := &fakeScanner{codes: tt.codes}
			gate := NewGate(classifier, scanner, testGeometry(), DefaultEmptinessParams())

			result, err := gate.Check(context.Background(), img, holderID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Ready != tt.wantReady {
				t.Errorf("Ready = %v, want %v", result.Ready, tt.wantReady)
			}
			if result.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", result.Reason, tt.wantReason)
			}
			if tt.label != "tray" && scanner.calls != 0 {
				t.Errorf("scanner called %d times before the tray check passed", scanner.calls)
			}
		})
	}
}

func TestGateCheckObjectInHolderSpace(t *testing.T) {
	img := blackFrame(t, 640, 480)
	// A bright block inside the holder space produces contours well above
	// the area threshold.
	gocv.Rectangle(&img, image.Rect(80, 80, 160, 160), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	classifier := &detect.MockClassifier{Label: "tray", Score: 0.99}
	scanner := &fakeScanner{codes: []QRCode{{
		Payload: "987",
		Corners: []image.Point{image.Pt(500, 100), image.Pt(560, 100), image.Pt(560, 160), image.Pt(500, 160)},
	}}}
	gate := NewGate(classifier, scanner, testGeometry(), DefaultEmptinessParams())

	result, err := gate.Check(context.Background(), img, "987")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ready {
		t.Error("Ready = true with an object in the holder space")
	}
	if result.Reason != ReasonTrayNotEmpty {
		t.Errorf("Reason = %q, want %q", result.Reason, ReasonTrayNotEmpty)
	}
}

func TestGateCheckClassifierError(t *testing.T) {
	img := blackFrame(t, 640, 480)
	classifier := &detect.MockClassifier{Err: errors.New("model exploded")}
	gate := NewGate(classifier, &fakeScanner{}, testGeometry(), DefaultEmptinessParams())

	_, err := gate.Check(context.Background(), img, "987")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "model exploded") {
		t.Errorf("error %q does not wrap the classifier failure", err)
	}
}
