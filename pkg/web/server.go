// Package web exposes the verification pipeline over HTTP: environment
// checks, recipe submission, verification, camera parameters, lighting
// and a live preview websocket.
package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/internal/log"
	"github.com/dispensio/trayverify/internal/metrics"
	"github.com/dispensio/trayverify/pkg/camera"
	"github.com/dispensio/trayverify/pkg/hub"
	"github.com/dispensio/trayverify/pkg/led"
	"github.com/dispensio/trayverify/pkg/verify"
)

// previewInterval paces the live preview broadcast; the acquisition loop
// runs faster, consoles do not need every frame.
const previewInterval = 100 * time.Millisecond

// Lighting presets applied before a gate check, per lamp mode.
const (
	upperLampBrightness = 120
	sideLampBrightness  = 100
)

// Server wires the HTTP surface. Camera and LED controllers are
// optional: with a nil camera the server only accepts uploaded images.
type Server struct {
	app  *fiber.App
	port string

	manager *verify.Manager
	camera  *camera.Controller
	leds    *led.Controller
	metrics *metrics.Metrics

	previewHub  *hub.Hub
	previewStop chan struct{}
}

// NewServer assembles routes over the given collaborators.
func NewServer(port string, manager *verify.Manager, cam *camera.Controller, leds *led.Controller, m *metrics.Metrics) *Server {
	s := &Server{
		port:        port,
		manager:     manager,
		camera:      cam,
		leds:        leds,
		metrics:     m,
		previewHub:  hub.New("preview"),
		previewStop: make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "trayverify",
		DisableStartupMessage: true,
		BodyLimit:             32 * 1024 * 1024, // uploaded frames
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)

	verification := api.Group("/verification")
	verification.Post("/environment", s.handleEnvironment)
	verification.Post("/recipe", s.handleRecipe)
	verification.Post("/verify", s.handleVerify)

	cameraAPI := api.Group("/camera")
	cameraAPI.Get("/parameters", s.handleGetParameters)
	cameraAPI.Put("/parameters", s.handlePutParameters)

	api.Post("/led", s.handleLED)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/camera", websocket.New(s.handlePreviewWS))

	s.app = app
	return s
}

// Start runs the preview broadcaster and listens. Blocks.
func (s *Server) Start() error {
	go s.previewHub.Run()
	if s.camera != nil {
		go s.previewLoop()
	}
	log.Info("web: listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the listener and the preview machinery.
func (s *Server) Shutdown() error {
	close(s.previewStop)
	s.previewHub.Stop()
	return s.app.Shutdown()
}

// App exposes the fiber app for handler tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// previewLoop pushes JPEG frames to connected preview clients.
func (s *Server) previewLoop() {
	ticker := time.NewTicker(previewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.previewStop:
			return
		case <-ticker.C:
		}

		if s.previewHub.ClientCount() == 0 {
			continue
		}
		frame, err := s.camera.GetFrame()
		if err != nil {
			continue
		}
		data, err := encodePreview(frame.Mat)
		frame.Close()
		if err != nil {
			log.Warn("web: preview encode failed", "error", err)
			continue
		}
		s.previewHub.Broadcast(data)
	}
}

// encodePreview returns the frame as JPEG bytes the caller owns. The
// encode buffer aliases native memory, so the bytes are copied out
// before it is released; the slice must stay valid for as long as the
// hub and its clients hold it.
func encodePreview(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (s *Server) handlePreviewWS(c *websocket.Conn) {
	hub.NewClient(s.previewHub, c).Run()
}
