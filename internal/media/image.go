package media

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// maxImageEdge bounds either dimension of images sent for vision
// analysis. Larger inputs get downscaled to keep request bodies small.
const maxImageEdge = 1568

const jpegQuality = 85

// NormalizeImage decodes an image, downscales it so neither edge
// exceeds maxImageEdge, and re-encodes as JPEG. Images already within
// bounds are still re-encoded so the caller always holds image/jpeg.
func NormalizeImage(data []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxImageEdge || bounds.Dy() > maxImageEdge {
		img = imaging.Fit(img, maxImageEdge, maxImageEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
