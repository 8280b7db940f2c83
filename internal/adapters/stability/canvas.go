package stability

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"
)

var canvasBackground = color.NRGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}

// fitCanvas letterboxes the image onto a size x size light gray square and
// re-encodes it as PNG. Images smaller than the canvas are not upscaled.
func fitCanvas(raw []byte, size int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("stability: decode init image: %w", err)
	}
	fitted := imaging.Fit(img, size, size, imaging.Lanczos)
	canvas := imaging.New(size, size, canvasBackground)
	canvas = imaging.PasteCenter(canvas, fitted)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("stability: encode init image: %w", err)
	}
	return buf.Bytes(), nil
}
