// Package detect provides pill instance segmentation and whole-image
// classification backed by ONNX models via the OpenCV DNN module.
package detect

import (
	"context"
	"image"

	"gocv.io/x/gocv"
)

// Detection is one segmented pill instance in a frame.
type Detection struct {
	ClassID    int             // index into the model label table
	ClassName  string          // pill name from the label table
	Confidence float32         // class score after NMS
	Polygon    []image.Point   // instance outline in image coordinates
	Box        image.Rectangle // bounding box of the polygon
}

// Center returns the horizontal center of the bounding box. Bay
// assignment uses only this coordinate.
func (d Detection) Center() image.Point {
	return image.Pt(d.Box.Min.X+d.Box.Dx()/2, d.Box.Min.Y+d.Box.Dy()/2)
}

// Engine is the instance-segmentation contract the verification core
// consumes. Detect must be safe for concurrent callers and must honor
// the context deadline.
type Engine interface {
	Detect(ctx context.Context, img gocv.Mat) ([]Detection, error)

	// Classes returns the model label table (class id → pill name).
	Classes() []string

	Close() error
}

// Classifier is the whole-image classification contract used by the
// environment gate to confirm a tray is presented.
type Classifier interface {
	// Classify returns the top-1 label and its score.
	Classify(ctx context.Context, img gocv.Mat) (string, float32, error)

	Close() error
}
