// verifyd is the dispense verification daemon: camera acquisition,
// environment gate, verification API and live preview.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dispensio/trayverify/internal/config"
	"github.com/dispensio/trayverify/internal/log"
	"github.com/dispensio/trayverify/internal/metrics"
	"github.com/dispensio/trayverify/pkg/camera"
	"github.com/dispensio/trayverify/pkg/detect"
	"github.com/dispensio/trayverify/pkg/led"
	"github.com/dispensio/trayverify/pkg/verify"
	"github.com/dispensio/trayverify/pkg/web"
)

// Version is the application version.
const Version = "0.1.0"

var (
	flagPort     string
	flagDevice   string
	flagSerial   string
	flagNoCamera bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "verifyd",
	Short:   "Medication dispense capture-and-verify daemon",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(flagLogLevel)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	m := metrics.New()

	segCfg := detect.DefaultSegConfig()
	segCfg.ModelPath = config.SegModel()
	segCfg.LabelsPath = config.SegModel() + ".names"

	clsCfg := detect.DefaultClsConfig()
	clsCfg.ModelPath = config.EnvModel()
	clsCfg.LabelsPath = config.EnvModel() + ".names"

	manager := verify.NewManager(verify.ManagerConfig{
		GeometryPath: config.GeometryFile(),
		Seg:          segCfg,
		Cls:          clsCfg,
		Artifacts: verify.ArtifactConfig{
			MaskDir:       config.Env("TRAYVERIFY_MASK_DIR", config.DefaultMaskDir),
			PillDir:       config.Env("TRAYVERIFY_PILL_DIR", config.DefaultPillDir),
			CompositeDir:  config.Env("TRAYVERIFY_COMPOSITE_DIR", config.DefaultCompositeDir),
			BackgroundDir: config.Env("TRAYVERIFY_BACKGROUND_DIR", config.DefaultBackgroundDir),
		},
		Layout:           verify.DefaultBayLayout(),
		Emptiness:        verify.DefaultEmptinessParams(),
		InferenceTimeout: config.InferenceTimeout(),
	}, m)

	// An init failure keeps the process alive in a visibly not-ready
	// state; operators fix the model/geometry files and restart.
	if err := manager.Initialize(); err != nil {
		log.Error("verification init failed, serving in not-ready state", "error", err)
	}
	defer manager.Close()

	var cam *camera.Controller
	if !flagNoCamera {
		cfg := camera.DefaultConfig()
		cfg.Device = flagDevice
		cfg.Width = config.EnvInt("TRAYVERIFY_FRAME_WIDTH", cfg.Width)
		cfg.Height = config.EnvInt("TRAYVERIFY_FRAME_HEIGHT", cfg.Height)
		cfg.ParamsFile = config.Env("TRAYVERIFY_PARAMS_FILE", config.DefaultParamsFile)
		cam = camera.New(cfg, m)
		if err := cam.Start(); err != nil {
			log.Error("camera start failed, uploads only", "error", err)
			cam = nil
		} else {
			defer cam.Stop()
		}
	}

	var leds *led.Controller
	if flagSerial != "" {
		leds = led.New(flagSerial, 115200)
		defer leds.Close()
	}

	server := web.NewServer(flagPort, manager, cam, leds, m)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		server.Shutdown()
	}()

	return server.Start()
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&flagPort, "port", config.HTTPPort(), "HTTP listen port")
	serveCmd.Flags().StringVar(&flagDevice, "device", config.VideoDevice(), "V4L2 capture device")
	serveCmd.Flags().StringVar(&flagSerial, "serial", config.SerialPort(), "LED controller serial port, empty to disable")
	serveCmd.Flags().BoolVar(&flagNoCamera, "no-camera", false, "serve uploads only, do not open the camera")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
