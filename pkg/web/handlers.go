package web

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/pkg/camera"
	"github.com/dispensio/trayverify/pkg/led"
	"github.com/dispensio/trayverify/pkg/verify"
)

func errorJSON(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"status": false, "message": msg})
}

// requestImage returns the frame to analyze: the uploaded "image" form
// file if present, otherwise the latest camera frame. The caller owns
// the returned Mat.
func (s *Server) requestImage(c *fiber.Ctx) (gocv.Mat, error) {
	file, err := c.FormFile("image")
	if err == nil {
		f, err := file.Open()
		if err != nil {
			return gocv.Mat{}, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return gocv.Mat{}, err
		}
		img, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			return gocv.Mat{}, err
		}
		if img.Empty() {
			img.Close()
			return gocv.Mat{}, errors.New("failed to decode uploaded image")
		}
		return img, nil
	}

	if s.camera == nil {
		return gocv.Mat{}, errors.New("no image uploaded and no camera attached")
	}
	frame, err := s.camera.GetFrame()
	if err != nil {
		return gocv.Mat{}, err
	}
	return frame.Mat, nil
}

// applyLampMode drives the illumination rig before a capture is trusted.
func (s *Server) applyLampMode(mode string) {
	if s.leds == nil {
		return
	}
	switch mode {
	case "side":
		s.leds.SetBrightness(sideLampBrightness, led.SideNorth)
		s.leds.SetBrightness(sideLampBrightness, led.SideSouth)
		s.leds.SetBrightness(0, led.Upper)
	default:
		s.leds.SetBrightness(upperLampBrightness, led.Upper)
		s.leds.SetBrightness(0, led.SideNorth)
		s.leds.SetBrightness(0, led.SideSouth)
	}
}

// handleEnvironment runs the readiness gate on one image.
func (s *Server) handleEnvironment(c *fiber.Ctx) error {
	holderID := c.FormValue("holder_id")
	if holderID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "holder_id is required")
	}
	s.applyLampMode(c.FormValue("lamp_mode"))

	img, err := s.requestImage(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	defer img.Close()

	result, err := s.manager.AnalyzeEnvironment(c.Context(), img, holderID)
	if err != nil {
		if errors.Is(err, verify.ErrNotInitialized) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	if !result.Ready {
		return c.Status(fiber.StatusBadRequest).JSON(result)
	}
	return c.JSON(result)
}

// handleRecipe stores the recipe for the session.
func (s *Server) handleRecipe(c *fiber.Ctx) error {
	recipe, err := verify.ParseRecipe(c.Body())
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.manager.SetRecipe(recipe); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"status": true, "message": "Recipe stored successfully"})
}

// handleVerify runs one verification over one image.
func (s *Server) handleVerify(c *fiber.Ctx) error {
	img, err := s.requestImage(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	defer img.Close()

	report, err := s.manager.Verify(c.Context(), img)
	if err != nil {
		if errors.Is(err, verify.ErrNoRecipe) || errors.Is(err, verify.ErrNotInitialized) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(report)
}

// handleGetParameters reads the live camera properties.
func (s *Server) handleGetParameters(c *fiber.Ctx) error {
	if s.camera == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "no camera attached")
	}
	params, err := s.camera.CurrentParameters()
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(params)
}

// handlePutParameters validates and applies camera properties.
func (s *Server) handlePutParameters(c *fiber.Ctx) error {
	if s.camera == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "no camera attached")
	}
	var params camera.Parameters
	if err := c.BodyParser(&params); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.camera.ApplyParameters(params); err != nil {
		if errors.Is(err, camera.ErrInvalidParameter) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(fiber.Map{"status": true, "message": "Parameters applied"})
}

// LEDRequest is the lighting control payload.
type LEDRequest struct {
	Brightness int    `json:"brightness"`
	Channel    string `json:"channel"`
}

// handleLED sets one LED bank. The LED protocol is fire-and-forget:
// invalid values are logged no-ops, so this always returns 200.
func (s *Server) handleLED(c *fiber.Ctx) error {
	var req LEDRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if s.leds != nil {
		if ch, ok := led.ChannelFromName(req.Channel); ok {
			s.leds.SetBrightness(req.Brightness, ch)
		} else {
			s.leds.SetBrightness(req.Brightness, led.Channel(-1))
		}
	}
	return c.JSON(fiber.Map{"status": true})
}

// handleHealth reports manager and camera state.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	running := false
	if s.camera != nil {
		running = s.camera.Running()
	}
	return c.JSON(fiber.Map{
		"state":          s.manager.State().String(),
		"camera_running": running,
	})
}
