package camera

import (
	"encoding/json"
	"os"

	"gocv.io/x/gocv"
)

// Parameters holds the V4L2 device properties the dispenser rig tunes.
// Ranges match the UVC sensor in the fixture; Validate rejects anything
// outside them before the device is touched.
type Parameters struct {
	Brightness              int  `json:"brightness"`
	Contrast                int  `json:"contrast"`
	Saturation              int  `json:"saturation"`
	WhiteBalanceAutomatic   bool `json:"white_balance_automatic"`
	WhiteBalanceTemperature int  `json:"white_balance_temperature"`
	Sharpness               int  `json:"sharpness"`
	AutoExposure            int  `json:"auto_exposure"`
	ExposureTimeAbsolute    int  `json:"exposure_time_absolute"`
}

// DefaultParameters returns the settings the fixture was tuned with.
func DefaultParameters() Parameters {
	return Parameters{
		Brightness:              0,
		Contrast:                32,
		Saturation:              60,
		WhiteBalanceAutomatic:   false,
		WhiteBalanceTemperature: 4600,
		Sharpness:               2,
		AutoExposure:            1,
		ExposureTimeAbsolute:    157,
	}
}

// Validate checks all values against the sensor ranges.
// Returns a list of validation errors, or nil if valid.
func (p *Parameters) Validate() []string {
	var errs []string

	if p.Brightness < -64 || p.Brightness > 64 {
		errs = append(errs, "brightness must be between -64 and 64")
	}
	if p.Contrast < 0 || p.Contrast > 64 {
		errs = append(errs, "contrast must be between 0 and 64")
	}
	if p.Saturation < 0 || p.Saturation > 128 {
		errs = append(errs, "saturation must be between 0 and 128")
	}
	if p.WhiteBalanceTemperature < 2800 || p.WhiteBalanceTemperature > 6500 {
		errs = append(errs, "white_balance_temperature must be between 2800 and 6500")
	}
	if p.Sharpness < 0 || p.Sharpness > 6 {
		errs = append(errs, "sharpness must be between 0 and 6")
	}
	if p.AutoExposure < 0 || p.AutoExposure > 3 {
		errs = append(errs, "auto_exposure must be between 0 and 3")
	}
	if p.ExposureTimeAbsolute < 1 || p.ExposureTimeAbsolute > 5000 {
		errs = append(errs, "exposure_time_absolute must be between 1 and 5000")
	}

	return errs
}

// LoadParameters reads a persisted parameter set. A missing file is not
// an error; it returns (nil, nil) so Start can fall back to device
// defaults.
func LoadParameters(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var p Parameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save persists the parameter set as JSON.
func (p *Parameters) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *Parameters) applyTo(dev device) {
	dev.Set(gocv.VideoCaptureBrightness, float64(p.Brightness))
	dev.Set(gocv.VideoCaptureContrast, float64(p.Contrast))
	dev.Set(gocv.VideoCaptureSaturation, float64(p.Saturation))
	if p.WhiteBalanceAutomatic {
		dev.Set(gocv.VideoCaptureAutoWB, 1)
	} else {
		dev.Set(gocv.VideoCaptureAutoWB, 0)
	}
	dev.Set(gocv.VideoCaptureWBTemperature, float64(p.WhiteBalanceTemperature))
	dev.Set(gocv.VideoCaptureSharpness, float64(p.Sharpness))
	dev.Set(gocv.VideoCaptureAutoExposure, float64(p.AutoExposure))
	dev.Set(gocv.VideoCaptureExposure, float64(p.ExposureTimeAbsolute))
}

func readParameters(dev device) Parameters {
	return Parameters{
		Brightness:              int(dev.Get(gocv.VideoCaptureBrightness)),
		Contrast:                int(dev.Get(gocv.VideoCaptureContrast)),
		Saturation:              int(dev.Get(gocv.VideoCaptureSaturation)),
		WhiteBalanceAutomatic:   dev.Get(gocv.VideoCaptureAutoWB) != 0,
		WhiteBalanceTemperature: int(dev.Get(gocv.VideoCaptureWBTemperature)),
		Sharpness:               int(dev.Get(gocv.VideoCaptureSharpness)),
		AutoExposure:            int(dev.Get(gocv.VideoCaptureAutoExposure)),
		ExposureTimeAbsolute:    int(dev.Get(gocv.VideoCaptureExposure)),
	}
}
