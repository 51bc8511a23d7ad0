package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// SegConfig holds segmentation engine configuration.
type SegConfig struct {
	ModelPath        string
	LabelsPath       string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultSegConfig returns production defaults for the pill
// segmentation model.
func DefaultSegConfig() SegConfig {
	return SegConfig{
		ModelPath:        "models/pillseg.onnx",
		LabelsPath:       "models/pillseg.names",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// SegEngine runs YOLO instance segmentation through the OpenCV DNN
// module. One forward pass runs at a time; Detect serializes on an
// internal mutex.
type SegEngine struct {
	net       gocv.Net
	labels    []string
	cfg       SegConfig
	mu        sync.Mutex
	inputSize image.Point
}

// NewSegEngine loads the segmentation model and its label table.
func NewSegEngine(cfg SegConfig) (*SegEngine, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	labels, err := LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load segmentation model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &SegEngine{
		net:       net,
		labels:    labels,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Classes returns the model label table.
func (e *SegEngine) Classes() []string {
	return e.labels
}

// Detect finds pill instances in the frame. The forward pass runs on its
// own goroutine so a stuck or overloaded model cannot pin the caller past
// the context deadline; on timeout the pass is abandoned and its result
// discarded.
func (e *SegEngine) Detect(ctx context.Context, img gocv.Mat) ([]Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The goroutine may outlive the caller's frame on timeout, so it
	// works on its own copy.
	local := img.Clone()

	type result struct {
		dets []Detection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer local.Close()
		e.mu.Lock()
		defer e.mu.Unlock()
		dets, err := e.run(local)
		ch <- result{dets, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.dets, r.err
	}
}

func (e *SegEngine) run(img gocv.Mat) ([]Detection, error) {
	imgW := img.Cols()
	imgH := img.Rows()

	blob := gocv.BlobFromImage(img, 1.0/255.0, e.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")

	outputs := e.net.ForwardLayers([]string{"output0", "output1"})
	if len(outputs) != 2 {
		for i := range outputs {
			outputs[i].Close()
		}
		return nil, fmt.Errorf("unexpected model output count: %d", len(outputs))
	}
	defer outputs[0].Close()
	defer outputs[1].Close()

	return e.parseOutputs(outputs[0], outputs[1], imgW, imgH)
}

// parseOutputs decodes the YOLO segmentation head.
//
// detOut holds [1, 4+nc+nm, N]: box (cx,cy,w,h), nc class scores and nm
// mask coefficients per candidate. protoOut holds [1, nm, ph, pw], the
// shared mask prototypes.
func (e *SegEngine) parseOutputs(detOut, protoOut gocv.Mat, imgW, imgH int) ([]Detection, error) {
	detDims := detOut.Size()
	if len(detDims) != 3 {
		return nil, fmt.Errorf("unexpected detection output shape: %v", detDims)
	}
	channels := detDims[1]
	rows := detDims[2]

	nc := len(e.labels)
	coeffStart := 4 + nc
	nm := channels - coeffStart
	if nm <= 0 {
		return nil, fmt.Errorf("model channels %d do not fit %d classes", channels, nc)
	}

	data, err := detOut.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detection output data: %w", err)
	}

	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int
	var coeffs [][]float32

	sx := float32(imgW) / float32(e.cfg.InputWidth)
	sy := float32(imgH) / float32(e.cfg.InputHeight)

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < coeffStart; c++ {
			if score := data[c*rows+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < e.cfg.ConfidenceThresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * sx)
		y1 := int((cy - h/2) * sy)
		x2 := int((cx + w/2) * sx)
		y2 := int((cy + h/2) * sy)

		mc := make([]float32, nm)
		for k := 0; k < nm; k++ {
			mc[k] = data[(coeffStart+k)*rows+i]
		}

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
		coeffs = append(coeffs, mc)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	protoDims := protoOut.Size()
	if len(protoDims) != 4 || protoDims[1] != nm {
		return nil, fmt.Errorf("unexpected prototype output shape: %v", protoDims)
	}
	protoH := protoDims[2]
	protoW := protoDims[3]
	protoData, err := protoOut.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("prototype output data: %w", err)
	}

	indices := gocv.NMSBoxes(boxes, confidences, e.cfg.ConfidenceThresh, e.cfg.NMSThresh)

	var detections []Detection
	for _, idx := range indices {
		poly, bbox, ok := instancePolygon(coeffs[idx], protoData, protoH, protoW, boxes[idx], imgW, imgH)
		if !ok {
			continue
		}
		detections = append(detections, Detection{
			ClassID:    classIDs[idx],
			ClassName:  e.labels[classIDs[idx]],
			Confidence: confidences[idx],
			Polygon:    poly,
			Box:        bbox,
		})
	}

	return detections, nil
}

// instancePolygon combines mask coefficients with the prototype masks,
// thresholds inside the detection box and extracts the instance outline.
// sigmoid(x) > 0.5 iff x > 0, so the raw logit is thresholded directly.
func instancePolygon(coeffs, proto []float32, protoH, protoW int, box image.Rectangle, imgW, imgH int) ([]image.Point, image.Rectangle, bool) {
	if imgW <= 0 || imgH <= 0 {
		return nil, image.Rectangle{}, false
	}

	// Detection box mapped onto the prototype grid.
	px0 := clampInt(box.Min.X*protoW/imgW, 0, protoW-1)
	py0 := clampInt(box.Min.Y*protoH/imgH, 0, protoH-1)
	px1 := clampInt(box.Max.X*protoW/imgW, 0, protoW-1)
	py1 := clampInt(box.Max.Y*protoH/imgH, 0, protoH-1)
	if px1 <= px0 || py1 <= py0 {
		return nil, image.Rectangle{}, false
	}

	mask := gocv.NewMatWithSize(protoH, protoW, gocv.MatTypeCV8U)
	defer mask.Close()

	plane := protoH * protoW
	for py := py0; py <= py1; py++ {
		for px := px0; px <= px1; px++ {
			var logit float32
			for k := range coeffs {
				logit += coeffs[k] * proto[k*plane+py*protoW+px]
			}
			if logit > 0 {
				mask.SetUCharAt(py, px, 255)
			}
		}
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mask, &resized, image.Pt(imgW, imgH), 0, 0, gocv.InterpolationNearestNeighbor)

	contours := gocv.FindContours(resized, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bestArea := 0.0
	bestIdx := -1
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestArea = area
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, image.Rectangle{}, false
	}

	contour := contours.At(bestIdx)
	poly := contour.ToPoints()
	bbox := gocv.BoundingRect(contour)
	if bbox.Dx() == 0 || bbox.Dy() == 0 {
		return nil, image.Rectangle{}, false
	}

	return poly, bbox, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Close releases the model.
func (e *SegEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.net.Close()
	return nil
}
