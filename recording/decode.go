package recording

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register the device's still format
	_ "image/png"
	"io"

	"github.com/klauspost/compress/flate"

	"visionlink/protocol"
)

// maxInflated bounds a single inflated frame.
const maxInflated = 64 << 20

// FrameImage returns the raw image bytes of f, inflating them if the device
// compressed them.
func FrameImage(f protocol.Frame) ([]byte, error) {
	switch f.Compression {
	case protocol.CompressionNone:
		return f.Image, nil
	case protocol.CompressionDeflate:
		zr := flate.NewReader(bytes.NewReader(f.Image))
		defer zr.Close()
		raw, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
		if err != nil {
			return nil, fmt.Errorf("inflate: %w", err)
		}
		if len(raw) > maxInflated {
			return nil, fmt.Errorf("inflate: image exceeds %d bytes", maxInflated)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", f.Compression)
	}
}

// DecodeFrame turns a frame into an image. JPEG and PNG stills are supported.
func DecodeFrame(f protocol.Frame) (image.Image, error) {
	raw, err := FrameImage(f)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty image")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return img, nil
}
