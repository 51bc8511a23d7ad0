// Package camera owns the capture device for the dispenser rig and keeps
// the single freshest frame available to consumers. Acquisition runs on
// its own goroutine so inference and HTTP handlers never wait on the
// device; they take a snapshot copy of whatever frame is newest.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/internal/log"
	"github.com/dispensio/trayverify/internal/metrics"
)

// Typed failures surfaced by the controller.
var (
	ErrDeviceOpen       = errors.New("camera: failed to open device")
	ErrDeviceClosed     = errors.New("camera: device not open")
	ErrInvalidParameter = errors.New("camera: invalid parameters")
	ErrNoFrame          = errors.New("camera: no frame available")
)

// Frame is one captured image plus its capture time. The Mat is an
// independent copy owned by the receiver; Close it when done.
type Frame struct {
	Mat        gocv.Mat
	CapturedAt time.Time
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() {
	f.Mat.Close()
}

// device abstracts gocv.VideoCapture so tests can drive the loop with a
// fake. *gocv.VideoCapture satisfies it.
type device interface {
	Read(dst *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, value float64)
	Get(prop gocv.VideoCaptureProperties) float64
	IsOpened() bool
	Close() error
}

// Config holds capture settings.
type Config struct {
	Device        string        // V4L2 device path
	Width         int           // requested frame width
	Height        int           // requested frame height
	ReadRetry     time.Duration // sleep after a failed read
	FrameInterval time.Duration // sleep after a successful read
	ParamsFile    string        // persisted parameter set, "" to skip
}

// DefaultConfig returns the dispenser bench defaults.
func DefaultConfig() Config {
	return Config{
		Device:        "/dev/video2",
		Width:         640,
		Height:        480,
		ReadRetry:     100 * time.Millisecond,
		FrameInterval: 50 * time.Millisecond,
		ParamsFile:    "camera_params.json",
	}
}

// Controller maintains the latest frame from one camera device.
//
// Two locks, on purpose: mu guards the running flag and the latest-frame
// slot and is only ever held for a copy; devMu serializes parameter
// reads/writes against each other so a read cannot observe a
// half-applied set. The acquisition loop does not take devMu.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	running  bool
	latest   gocv.Mat
	stamp    time.Time
	hasFrame bool
	stop     chan struct{}
	done     chan struct{}

	devMu sync.Mutex
	dev   device

	metrics *metrics.Metrics

	open func(cfg Config) (device, error)
}

// New creates a controller for the given device. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:     cfg,
		metrics: m,
		open:    openVideoCapture,
	}
}

func openVideoCapture(cfg Config) (device, error) {
	cap, err := gocv.OpenVideoCaptureWithAPI(cfg.Device, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, err
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("device %s reports closed", cfg.Device)
	}
	return cap, nil
}

// Start opens the device, applies any persisted parameter set and spawns
// the acquisition loop. Calling Start on a running controller is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := c.open(c.cfg)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceOpen, c.cfg.Device, err)
	}

	dev.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	dev.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))

	if c.cfg.ParamsFile != "" {
		if p, err := LoadParameters(c.cfg.ParamsFile); err != nil {
			log.Warn("camera: ignoring saved parameters", "file", c.cfg.ParamsFile, "error", err)
		} else if p != nil {
			if errs := p.Validate(); len(errs) > 0 {
				log.Warn("camera: saved parameters invalid", "errors", errs)
			} else {
				p.applyTo(dev)
				log.Info("camera: applied saved parameters", "file", c.cfg.ParamsFile)
			}
		}
	}

	c.devMu.Lock()
	c.dev = dev
	c.devMu.Unlock()

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true
	go c.captureLoop(dev, c.stop, c.done)

	log.Info("camera: capture started", "device", c.cfg.Device)
	return nil
}

// Stop signals the acquisition loop to exit, waits for it, and releases
// the device. Safe to call if Start was never called.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done

	c.devMu.Lock()
	if c.dev != nil {
		if err := c.dev.Close(); err != nil {
			log.Warn("camera: device close failed", "error", err)
		}
		c.dev = nil
	}
	c.devMu.Unlock()

	c.mu.Lock()
	if c.hasFrame {
		c.latest.Close()
		c.hasFrame = false
	}
	c.mu.Unlock()

	log.Info("camera: capture stopped", "device", c.cfg.Device)
}

// captureLoop reads frames until stopped. A failed read is a transient
// condition (USB hiccup, device busy); it sleeps and retries rather than
// terminating, leaving the previous frame in place.
func (c *Controller) captureLoop(dev device, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := gocv.NewMat()
	defer buf.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := dev.Read(&buf); !ok || buf.Empty() {
			if c.metrics != nil {
				c.metrics.CaptureErrors.Add(1)
			}
			select {
			case <-stop:
				return
			case <-time.After(c.cfg.ReadRetry):
			}
			continue
		}

		c.mu.Lock()
		if c.hasFrame {
			c.latest.Close()
		}
		c.latest = buf.Clone()
		c.stamp = time.Now()
		c.hasFrame = true
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.FramesCaptured.Add(1)
		}

		select {
		case <-stop:
			return
		case <-time.After(c.cfg.FrameInterval):
		}
	}
}

// GetFrame returns an independent copy of the latest frame. It never
// waits for a new frame; if nothing has been captured yet it returns
// ErrNoFrame.
func (c *Controller) GetFrame() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasFrame {
		return Frame{}, ErrNoFrame
	}
	return Frame{Mat: c.latest.Clone(), CapturedAt: c.stamp}, nil
}

// Running reports whether the acquisition loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ApplyParameters validates and applies a parameter set to the device,
// then persists it. The device state is untouched on validation failure.
func (c *Controller) ApplyParameters(p Parameters) error {
	if errs := p.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, errs)
	}

	c.devMu.Lock()
	defer c.devMu.Unlock()
	if c.dev == nil {
		return ErrDeviceClosed
	}
	p.applyTo(c.dev)

	if c.cfg.ParamsFile != "" {
		if err := p.Save(c.cfg.ParamsFile); err != nil {
			log.Warn("camera: failed to persist parameters", "file", c.cfg.ParamsFile, "error", err)
		}
	}
	return nil
}

// CurrentParameters reads the live device properties.
func (c *Controller) CurrentParameters() (Parameters, error) {
	c.devMu.Lock()
	defer c.devMu.Unlock()
	if c.dev == nil {
		return Parameters{}, ErrDeviceClosed
	}
	return readParameters(c.dev), nil
}
