package verify

import (
	"image"

	"gocv.io/x/gocv"
)

// QRCode is one decoded code with its corner points in image
// coordinates, in the order the detector reports them.
type QRCode struct {
	Payload string
	Corners []image.Point
}

// QRScanner finds and decodes QR codes in a frame.
type QRScanner interface {
	Scan(img gocv.Mat) []QRCode
}

// NewQRScanner returns the OpenCV-backed scanner.
func NewQRScanner() QRScanner {
	return opencvScanner{}
}

type opencvScanner struct{}

// Scan runs detectAndDecodeMulti. The detector is cheap to construct and
// not safe for concurrent use, so each call gets its own.
func (opencvScanner) Scan(img gocv.Mat) []QRCode {
	detector := gocv.NewQRCodeDetector()
	defer detector.Close()

	var decoded []string
	points := gocv.NewMat()
	defer points.Close()
	codes := []gocv.Mat{}

	ok := detector.DetectAndDecodeMulti(img, &decoded, &points, &codes)
	for i := range codes {
		codes[i].Close()
	}
	if !ok || len(decoded) == 0 {
		return nil
	}

	// points holds 4 corners per code as float32 (x, y) pairs.
	out := make([]QRCode, 0, len(decoded))
	for i, payload := range decoded {
		qr := QRCode{Payload: payload}
		if i < points.Rows() {
			for j := 0; j < points.Cols(); j++ {
				v := points.GetVecfAt(i, j)
				if len(v) >= 2 {
					qr.Corners = append(qr.Corners, image.Pt(int(v[0]), int(v[1])))
				}
			}
		}
		out = append(out, qr)
	}
	return out
}
