package verify

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/pkg/detect"
)

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func squareDetection(name string) detect.Detection {
	return detect.Detection{
		ClassName: name,
		Polygon: []image.Point{
			image.Pt(100, 100), image.Pt(180, 100),
			image.Pt(180, 180), image.Pt(100, 180),
		},
		Box: image.Rect(100, 100, 180, 180),
	}
}

func TestArtifactWriterWrite(t *testing.T) {
	root := t.TempDir()
	cfg := ArtifactConfig{
		MaskDir:       filepath.Join(root, "masks"),
		PillDir:       filepath.Join(root, "pills"),
		CompositeDir:  filepath.Join(root, "composites"),
		BackgroundDir: filepath.Join(root, "backgrounds"),
	}

	// One background for the composite pool.
	if err := os.MkdirAll(cfg.BackgroundDir, 0o755); err != nil {
		t.Fatal(err)
	}
	bg := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer bg.Close()
	if !gocv.IMWrite(filepath.Join(cfg.BackgroundDir, "bench.jpg"), bg) {
		t.Fatal("failed to write background fixture")
	}

	w := NewArtifactWriter(cfg, nil)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()
	gocv.Rectangle(&frame, image.Rect(100, 100, 180, 180), color.RGBA{R: 200, G: 200, B: 200, A: 255}, -1)

	w.Write(frame, squareDetection("aspirin"), Bay1)

	if n := countFiles(t, cfg.MaskDir); n != 1 {
		t.Errorf("mask dir has %d files, want 1", n)
	}
	if n := countFiles(t, cfg.PillDir); n != 1 {
		t.Errorf("pill dir has %d files, want 1", n)
	}
	if n := countFiles(t, cfg.CompositeDir); n != 1 {
		t.Errorf("composite dir has %d files, want 1", n)
	}

	// The crop name carries pill, bay and position for dataset reuse.
	want := "aspirin_dispensing_bay_1_100_100.png"
	if _, err := os.Stat(filepath.Join(cfg.PillDir, want)); err != nil {
		t.Errorf("expected crop %s: %v", want, err)
	}
}

func TestArtifactWriterSkipsDegeneratePolygon(t *testing.T) {
	root := t.TempDir()
	cfg := ArtifactConfig{MaskDir: filepath.Join(root, "masks")}
	w := NewArtifactWriter(cfg, nil)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	w.Write(frame, detect.Detection{
		ClassName: "aspirin",
		Polygon:   []image.Point{image.Pt(1, 1), image.Pt(2, 2)},
		Box:       image.Rect(0, 0, 10, 10),
	}, Bay1)

	if n := countFiles(t, cfg.MaskDir); n != 0 {
		t.Errorf("mask dir has %d files, want 0", n)
	}
}

func TestArtifactWriterNoBackgroundsIsNotFatal(t *testing.T) {
	root := t.TempDir()
	cfg := ArtifactConfig{
		MaskDir:       filepath.Join(root, "masks"),
		PillDir:       filepath.Join(root, "pills"),
		CompositeDir:  filepath.Join(root, "composites"),
		BackgroundDir: filepath.Join(root, "backgrounds"),
	}
	if err := os.MkdirAll(cfg.BackgroundDir, 0o755); err != nil {
		t.Fatal(err)
	}
	w := NewArtifactWriter(cfg, nil)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	w.Write(frame, squareDetection("aspirin"), Bay2)

	// Mask and crop still land; only the composite is skipped.
	if n := countFiles(t, cfg.MaskDir); n != 1 {
		t.Errorf("mask dir has %d files, want 1", n)
	}
	if n := countFiles(t, cfg.PillDir); n != 1 {
		t.Errorf("pill dir has %d files, want 1", n)
	}
	if n := countFiles(t, cfg.CompositeDir); n != 0 {
		t.Errorf("composite dir has %d files, want 0", n)
	}
}
