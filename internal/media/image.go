package media

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Downscale re-encodes an image as JPEG no wider than maxWidth. Images
// already within bounds are still re-encoded to normalize format and
// quality. Data that does not decode as an image is returned unchanged
// so callers can store it as-is.
func Downscale(data []byte, maxWidth, quality int) (out []byte, contentType string) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, ""
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if maxWidth > 0 && width > maxWidth {
		height = height * maxWidth / width
		if height < 1 {
			height = 1
		}
		width = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return data, ""
	}
	return buf.Bytes(), "image/jpeg"
}
