// Package config provides configuration helpers for trayverify commands.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for a bench deployment. Every value can be overridden via
// environment variables so the same binary runs on the dispenser and in
// a development setup.
const (
	DefaultHTTPPort     = "8000"
	DefaultVideoDevice  = "/dev/video2"
	DefaultSerialPort   = "/dev/ttyACM0"
	DefaultGeometryFile = "config/geometry.json"
	DefaultSegModel     = "models/pillseg.onnx"
	DefaultEnvModel     = "models/envcls.onnx"
	DefaultParamsFile   = "camera_params.json"

	DefaultMaskDir       = "artifacts/masks"
	DefaultPillDir       = "artifacts/pills"
	DefaultCompositeDir  = "artifacts/composites"
	DefaultBackgroundDir = "artifacts/backgrounds"
)

// Env returns the value of key or the fallback if unset or empty.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// HTTPPort returns the API listen port from TRAYVERIFY_PORT.
func HTTPPort() string {
	return Env("TRAYVERIFY_PORT", DefaultHTTPPort)
}

// VideoDevice returns the capture device path from TRAYVERIFY_VIDEO.
func VideoDevice() string {
	return Env("TRAYVERIFY_VIDEO", DefaultVideoDevice)
}

// SerialPort returns the LED controller serial port from TRAYVERIFY_SERIAL.
func SerialPort() string {
	return Env("TRAYVERIFY_SERIAL", DefaultSerialPort)
}

// GeometryFile returns the holder-space geometry path from TRAYVERIFY_GEOMETRY.
func GeometryFile() string {
	return Env("TRAYVERIFY_GEOMETRY", DefaultGeometryFile)
}

// SegModel returns the segmentation model path from TRAYVERIFY_SEG_MODEL.
func SegModel() string {
	return Env("TRAYVERIFY_SEG_MODEL", DefaultSegModel)
}

// EnvModel returns the environment classifier path from TRAYVERIFY_ENV_MODEL.
func EnvModel() string {
	return Env("TRAYVERIFY_ENV_MODEL", DefaultEnvModel)
}

// InferenceTimeout returns the per-call inference deadline from
// TRAYVERIFY_INFER_TIMEOUT (Go duration syntax). Defaults to 10s.
func InferenceTimeout() time.Duration {
	if v := os.Getenv("TRAYVERIFY_INFER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 10 * time.Second
}

// EnvInt returns an integer environment value or the fallback.
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
