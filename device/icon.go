package device

import (
	"bytes"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
)

const iconSize = 16

// iconPNG renders a small solid icon whose color is derived from the bundle
// identifier, so distinct apps get distinct bytes.
func iconPNG(bundleID string) []byte {
	h := fnv.New32a()
	h.Write([]byte(bundleID))
	sum := h.Sum32()
	c := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
