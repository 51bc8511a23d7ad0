package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ClsConfig holds environment classifier configuration.
type ClsConfig struct {
	ModelPath   string
	LabelsPath  string
	InputWidth  int
	InputHeight int
}

// DefaultClsConfig returns production defaults for the environment
// classification model.
func DefaultClsConfig() ClsConfig {
	return ClsConfig{
		ModelPath:   "models/envcls.onnx",
		LabelsPath:  "models/envcls.names",
		InputWidth:  224,
		InputHeight: 224,
	}
}

// ClsEngine is a whole-image YOLO classifier used by the environment
// gate to decide whether a tray is in view at all.
type ClsEngine struct {
	net       gocv.Net
	labels    []string
	mu        sync.Mutex
	inputSize image.Point
}

// NewClsEngine loads the classification model and its label table.
func NewClsEngine(cfg ClsConfig) (*ClsEngine, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	labels, err := LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load classifier model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ClsEngine{
		net:       net,
		labels:    labels,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Classify returns the top-1 label and score for the frame. Same timeout
// discipline as SegEngine.Detect.
func (e *ClsEngine) Classify(ctx context.Context, img gocv.Mat) (string, float32, error) {
	if img.Empty() {
		return "", 0, fmt.Errorf("empty image")
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	local := img.Clone()

	type result struct {
		label string
		score float32
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer local.Close()
		e.mu.Lock()
		defer e.mu.Unlock()
		label, score, err := e.run(local)
		ch <- result{label, score, err}
	}()

	select {
	case <-ctx.Done():
		return "", 0, ctx.Err()
	case r := <-ch:
		return r.label, r.score, r.err
	}
}

func (e *ClsEngine) run(img gocv.Mat) (string, float32, error) {
	blob := gocv.BlobFromImage(img, 1.0/255.0, e.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")

	output := e.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return "", 0, fmt.Errorf("classifier output data: %w", err)
	}
	if len(data) < len(e.labels) {
		return "", 0, fmt.Errorf("classifier output has %d scores for %d labels", len(data), len(e.labels))
	}

	best := 0
	for i := 1; i < len(e.labels); i++ {
		if data[i] > data[best] {
			best = i
		}
	}
	return e.labels[best], data[best], nil
}

// Close releases the model.
func (e *ClsEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.net.Close()
	return nil
}
