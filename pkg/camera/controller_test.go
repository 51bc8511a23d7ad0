package camera

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

// fakeDevice serves a fixed frame and records property writes.
type fakeDevice struct {
	mu     sync.Mutex
	frame  gocv.Mat
	props  map[gocv.VideoCaptureProperties]float64
	reads  int
	closed bool
}

func newFakeDevice(t *testing.T, value float64) *fakeDevice {
	t.Helper()
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), 8, 8, gocv.MatTypeCV8UC3)
	d := &fakeDevice{frame: frame, props: make(map[gocv.VideoCaptureProperties]float64)}
	t.Cleanup(func() {
		d.mu.Lock()
		d.frame.Close()
		d.mu.Unlock()
	})
	return d
}

func (d *fakeDevice) Read(dst *gocv.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	d.frame.CopyTo(dst)
	return true
}

func (d *fakeDevice) Set(prop gocv.VideoCaptureProperties, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props[prop] = value
}

func (d *fakeDevice) Get(prop gocv.VideoCaptureProperties) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.props[prop]
}

func (d *fakeDevice) IsOpened() bool { return !d.closed }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		Device:        "fake",
		Width:         8,
		Height:        8,
		ReadRetry:     time.Millisecond,
		FrameInterval: time.Millisecond,
	}
}

func startController(t *testing.T, dev *fakeDevice) *Controller {
	t.Helper()
	c := New(testConfig(), nil)
	c.open = func(Config) (device, error) { return dev, nil }
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Stop)
	return c
}

func waitForFrame(t *testing.T, c *Controller) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := c.GetFrame()
		if err == nil {
			return frame
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no frame captured before deadline")
	return Frame{}
}

func TestGetFrameBeforeCapture(t *testing.T) {
	c := New(testConfig(), nil)
	if _, err := c.GetFrame(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("error = %v, want ErrNoFrame", err)
	}
}

func TestStartStop(t *testing.T) {
	dev := newFakeDevice(t, 7)
	c := startController(t, dev)

	if !c.Running() {
		t.Fatal("Running = false after Start")
	}
	frame := waitForFrame(t, c)
	frame.Close()

	c.Stop()
	if c.Running() {
		t.Error("Running = true after Stop")
	}
	if !dev.closed {
		t.Error("device not closed on Stop")
	}
	if _, err := c.GetFrame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("error after Stop = %v, want ErrNoFrame", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := New(testConfig(), nil)
	c.Stop() // must not panic or block
}

func TestStartIsIdempotent(t *testing.T) {
	dev := newFakeDevice(t, 7)
	c := startController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("second Start returned %v", err)
	}
}

func TestStartOpenFailure(t *testing.T) {
	c := New(testConfig(), nil)
	c.open = func(Config) (device, error) { return nil, errors.New("no such device") }
	err := c.Start()
	if !errors.Is(err, ErrDeviceOpen) {
		t.Fatalf("error = %v, want ErrDeviceOpen", err)
	}
	if c.Running() {
		t.Error("Running = true after failed Start")
	}
}

// A frame handed out by GetFrame is a snapshot: mutating it must not
// leak into frames handed out later.
func TestGetFrameSnapshotIsolation(t *testing.T) {
	dev := newFakeDevice(t, 7)
	c := startController(t, dev)

	first := waitForFrame(t, c)
	defer first.Close()
	first.Mat.SetUCharAt(0, 0, 200)

	second := waitForFrame(t, c)
	defer second.Close()
	if got := second.Mat.GetUCharAt(0, 0); got != 7 {
		t.Errorf("pixel = %d after mutating a previous snapshot, want 7", got)
	}
}

func TestApplyParameters(t *testing.T) {
	dev := newFakeDevice(t, 7)
	c := startController(t, dev)
	waitForFrame(t, c).Close()

	p := DefaultParameters()
	p.Brightness = 10
	if err := c.ApplyParameters(p); err != nil {
		t.Fatal(err)
	}
	if got := dev.Get(gocv.VideoCaptureBrightness); got != 10 {
		t.Errorf("brightness = %v, want 10", got)
	}

	current, err := c.CurrentParameters()
	if err != nil {
		t.Fatal(err)
	}
	if current.Brightness != 10 {
		t.Errorf("CurrentParameters brightness = %d, want 10", current.Brightness)
	}
}

func TestApplyParametersRejectsInvalid(t *testing.T) {
	dev := newFakeDevice(t, 7)
	c := startController(t, dev)

	p := DefaultParameters()
	p.Brightness = 500
	err := c.ApplyParameters(p)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("error = %v, want ErrInvalidParameter", err)
	}
	if _, ok := dev.props[gocv.VideoCaptureBrightness]; ok {
		t.Error("device touched despite validation failure")
	}
}

func TestApplyParametersWithoutDevice(t *testing.T) {
	c := New(testConfig(), nil)
	if err := c.ApplyParameters(DefaultParameters()); !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("error = %v, want ErrDeviceClosed", err)
	}
	if _, err := c.CurrentParameters(); !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("error = %v, want ErrDeviceClosed", err)
	}
}
