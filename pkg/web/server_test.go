package web

import (
	"bytes"
	"testing"

	"gocv.io/x/gocv"
)

// The preview bytes outlive the encode call: they sit in the hub's
// broadcast queue and each client's send buffer until written. The
// returned slice must therefore be an independent copy, still a valid
// JPEG after the native encode buffer has been released.
func TestEncodePreviewOwnsItsBytes(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()

	data, err := encodePreview(img)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Fatalf("preview bytes do not start with the JPEG marker: % x", data[:min(len(data), 4)])
	}

	decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("preview bytes no longer decode: %v", err)
	}
	defer decoded.Close()
	if decoded.Empty() || decoded.Cols() != 160 || decoded.Rows() != 120 {
		t.Errorf("decoded preview is %dx%d, want 160x120", decoded.Cols(), decoded.Rows())
	}
}
