package verify

import (
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/internal/log"
	"github.com/dispensio/trayverify/internal/metrics"
	"github.com/dispensio/trayverify/pkg/detect"
)

// ArtifactConfig names the output directories for verification
// artifacts. BackgroundDir is the input pool for composites.
type ArtifactConfig struct {
	MaskDir       string
	PillDir       string
	CompositeDir  string
	BackgroundDir string
}

// ArtifactWriter persists three derived images per detection for audit
// and dataset reuse: the binary instance mask, an alpha-matted crop of
// the pill, and the pill composited onto a random neutral background.
//
// Everything here is best effort. Artifact persistence is not part of
// the verification contract, so every failure is logged and swallowed.
type ArtifactWriter struct {
	cfg     ArtifactConfig
	metrics *metrics.Metrics
}

// NewArtifactWriter creates the writer and its output directories.
// m may be nil.
func NewArtifactWriter(cfg ArtifactConfig, m *metrics.Metrics) *ArtifactWriter {
	for _, dir := range []string{cfg.MaskDir, cfg.PillDir, cfg.CompositeDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn("artifacts: cannot create directory", "dir", dir, "error", err)
		}
	}
	return &ArtifactWriter{cfg: cfg, metrics: m}
}

// Write persists the artifacts for one detection. Never returns an
// error; failures are logged.
func (w *ArtifactWriter) Write(frame gocv.Mat, det detect.Detection, bay Bay) {
	if len(det.Polygon) < 3 {
		return
	}

	mask := gocv.NewMatWithSize(frame.Rows(), frame.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{det.Polygon})
	defer pts.Close()
	gocv.FillPoly(&mask, pts, color.RGBA{R: 255, G: 255, B: 255})

	w.writeMask(mask)

	rect := det.Box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if rect.Empty() {
		return
	}
	base := fmt.Sprintf("%s_%s_%d_%d", det.ClassName, bay, rect.Min.X, rect.Min.Y)

	w.writeCrop(frame, mask, rect, base)
	w.writeComposite(frame, mask, base)
}

func (w *ArtifactWriter) writeMask(mask gocv.Mat) {
	if w.cfg.MaskDir == "" {
		return
	}
	path := filepath.Join(w.cfg.MaskDir, uuid.New().String()+".png")
	if !gocv.IMWrite(path, mask) {
		w.fail("mask write failed", path)
	}
}

// writeCrop saves the pill with the mask as alpha channel, cropped to
// the detection box.
func (w *ArtifactWriter) writeCrop(frame, mask gocv.Mat, rect image.Rectangle, base string) {
	if w.cfg.PillDir == "" {
		return
	}

	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.CvtColor(frame, &bgra, gocv.ColorBGRToBGRA)

	channels := gocv.Split(bgra)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	if len(channels) != 4 {
		w.fail("unexpected channel count in crop", base)
		return
	}
	mask.CopyTo(&channels[3])
	gocv.Merge(channels, &bgra)

	crop := bgra.Region(rect)
	defer crop.Close()

	path := filepath.Join(w.cfg.PillDir, base+".png")
	if !gocv.IMWrite(path, crop) {
		w.fail("crop write failed", path)
	}
}

// writeComposite lays the masked pill over a random background resized
// to the frame.
func (w *ArtifactWriter) writeComposite(frame, mask gocv.Mat, base string) {
	if w.cfg.CompositeDir == "" || w.cfg.BackgroundDir == "" {
		return
	}

	background, err := w.randomBackground(frame.Cols(), frame.Rows())
	if err != nil {
		w.fail("background selection failed", err.Error())
		return
	}
	defer background.Close()

	maskInv := gocv.NewMat()
	defer maskInv.Close()
	gocv.BitwiseNot(mask, &maskInv)

	maskInvRGB := gocv.NewMat()
	defer maskInvRGB.Close()
	gocv.CvtColor(maskInv, &maskInvRGB, gocv.ColorGrayToBGR)

	pillOnly := gocv.NewMat()
	defer pillOnly.Close()
	gocv.BitwiseAndWithMask(frame, frame, &pillOnly, mask)

	bgOnly := gocv.NewMat()
	defer bgOnly.Close()
	gocv.BitwiseAnd(background, maskInvRGB, &bgOnly)

	overlay := gocv.NewMat()
	defer overlay.Close()
	gocv.Add(pillOnly, bgOnly, &overlay)

	path := filepath.Join(w.cfg.CompositeDir, base+"_bg.jpg")
	if !gocv.IMWrite(path, overlay) {
		w.fail("composite write failed", path)
	}
}

// randomBackground picks a random jpg under BackgroundDir (recursively)
// and resizes it to the target size.
func (w *ArtifactWriter) randomBackground(width, height int) (gocv.Mat, error) {
	var candidates []string
	err := filepath.WalkDir(w.cfg.BackgroundDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(path), ".jpg") {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return gocv.Mat{}, err
	}
	if len(candidates) == 0 {
		return gocv.Mat{}, fmt.Errorf("no backgrounds in %s", w.cfg.BackgroundDir)
	}

	path := candidates[rand.Intn(len(candidates))]
	bg := gocv.IMRead(path, gocv.IMReadColor)
	if bg.Empty() {
		bg.Close()
		return gocv.Mat{}, fmt.Errorf("failed to read background %s", path)
	}

	resized := gocv.NewMat()
	gocv.Resize(bg, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	bg.Close()
	return resized, nil
}

func (w *ArtifactWriter) fail(msg, detail string) {
	log.Warn("artifacts: "+msg, "detail", detail)
	if w.metrics != nil {
		w.metrics.ArtifactErrors.Add(1)
	}
}
