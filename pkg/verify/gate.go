package verify

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/pkg/detect"
)

// Gate check reasons. These strings are the contract with the operator
// UI; do not reword without coordinating.
const (
	ReasonReady           = "environment ready for verification"
	ReasonTrayNotDetected = "tray not detected"
	ReasonQRNotDetected   = "QR code not detected"
	ReasonQRWrongSide     = "QR code on wrong side"
	ReasonTrayNotEmpty    = "tray is not empty"
)

// GateResult is the outcome of one readiness check. Not-ready is a
// value, not an error: it is the expected outcome while an operator is
// still setting up the fixture.
type GateResult struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason"`
}

func notReady(reason string) GateResult {
	return GateResult{Ready: false, Reason: reason}
}

// EmptinessParams tunes the edge-density tray-emptiness heuristic.
type EmptinessParams struct {
	MinContourArea float64 // smallest contour area that counts as an object
	KernelSize     int     // Gaussian blur kernel, odd
	LowThresh      float32 // Canny lower threshold
	HighThresh     float32 // Canny upper threshold
}

// DefaultEmptinessParams returns the tuned production values.
func DefaultEmptinessParams() EmptinessParams {
	return EmptinessParams{
		MinContourArea: 10,
		KernelSize:     7,
		LowThresh:      1,
		HighThresh:     120,
	}
}

// Gate decides, from one frame, whether the physical setup is ready for
// verification. It is a pure decision function over (frame, expected
// holder id); the five checks run in a fixed order and the first failure
// wins.
type Gate struct {
	classifier detect.Classifier
	scanner    QRScanner
	geometry   *Geometry
	params     EmptinessParams
}

// NewGate builds a gate over the given collaborators.
func NewGate(classifier detect.Classifier, scanner QRScanner, geometry *Geometry, params EmptinessParams) *Gate {
	return &Gate{
		classifier: classifier,
		scanner:    scanner,
		geometry:   geometry,
		params:     params,
	}
}

// Check runs the readiness checks in order:
//  1. whole-image classification must say "tray"
//  2. a QR code must be present
//  3. the code must sit in the right half of the frame
//  4. its payload must equal the expected holder id
//  5. every holder space must be empty
//
// An error is returned only for infrastructure failures (classifier
// error or timeout), never for a not-ready environment.
func (g *Gate) Check(ctx context.Context, img gocv.Mat, expectedHolderID string) (GateResult, error) {
	label, _, err := g.classifier.Classify(ctx, img)
	if err != nil {
		return GateResult{}, fmt.Errorf("environment classification: %w", err)
	}
	if label != "tray" {
		return notReady(ReasonTrayNotDetected), nil
	}

	codes := g.scanner.Scan(img)
	if len(codes) == 0 {
		return notReady(ReasonQRNotDetected), nil
	}

	qr := codes[0]
	if len(qr.Corners) == 0 {
		return notReady(ReasonQRNotDetected), nil
	}
	// The holder orientation convention: the QR label sits on the right
	// half of the frame. The first reported corner's x decides.
	if qr.Corners[0].X < img.Cols()/2 {
		return notReady(ReasonQRWrongSide), nil
	}

	if qr.Payload != expectedHolderID {
		return notReady(fmt.Sprintf("QR code mismatch. Expected %s, got %s", expectedHolderID, qr.Payload)), nil
	}

	if !g.trayEmpty(img) {
		return notReady(ReasonTrayNotEmpty), nil
	}

	return GateResult{Ready: true, Reason: ReasonReady}, nil
}

// trayEmpty reports whether no holder space contains an object. An empty
// uniformly lit cavity has near-zero edge density; anything inserted
// produces contours well above MinContourArea.
func (g *Gate) trayEmpty(img gocv.Mat) bool {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	for _, space := range g.geometry.HolderSpaces {
		rect := space.BoundingRect().Intersect(bounds)
		if rect.Empty() {
			continue
		}
		if g.spaceOccupied(img, rect) {
			return false
		}
	}
	return true
}

func (g *Gate) spaceOccupied(img gocv.Mat, rect image.Rectangle) bool {
	roi := img.Region(rect)
	defer roi.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := g.params.KernelSize
	gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, g.params.LowThresh, g.params.HighThresh)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > g.params.MinContourArea {
			return true
		}
	}
	return false
}
