// traycheck runs the environment gate against a single image file.
//
// Usage:
//
//	traycheck <image.jpg> <expected-holder-id>
//
// Model and geometry paths come from the same environment variables as
// verifyd. Exits 0 when the environment is ready, 1 otherwise.
package main

import (
	"context"
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/internal/config"
	"github.com/dispensio/trayverify/internal/log"
	"github.com/dispensio/trayverify/pkg/detect"
	"github.com/dispensio/trayverify/pkg/verify"
)

func main() {
	log.Init("warn")

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: traycheck <image> <expected-holder-id>")
		os.Exit(2)
	}
	imagePath, holderID := os.Args[1], os.Args[2]

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		fmt.Fprintf(os.Stderr, "cannot read image %s\n", imagePath)
		os.Exit(2)
	}
	defer img.Close()

	geometry, err := verify.LoadGeometry(config.GeometryFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	clsCfg := detect.DefaultClsConfig()
	clsCfg.ModelPath = config.EnvModel()
	clsCfg.LabelsPath = config.EnvModel() + ".names"
	classifier, err := detect.NewClsEngine(clsCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer classifier.Close()

	gate := verify.NewGate(classifier, verify.NewQRScanner(), geometry, verify.DefaultEmptinessParams())

	ctx, cancel := context.WithTimeout(context.Background(), config.InferenceTimeout())
	defer cancel()

	result, err := gate.Check(ctx, img, holderID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Println(result.Reason)
	if !result.Ready {
		os.Exit(1)
	}
}
