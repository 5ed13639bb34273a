package media

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodedWidth(t *testing.T, data []byte) int {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return img.Bounds().Dx()
}

func TestDownscaleWideImage(t *testing.T) {
	src := encodePNG(t, 3000, 1500)

	out, contentType := Downscale(src, 1280, 80)
	if contentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", contentType)
	}
	if got := decodedWidth(t, out); got != 1280 {
		t.Errorf("expected width 1280, got %d", got)
	}
}

func TestDownscaleSmallImageKeepsSize(t *testing.T) {
	src := encodePNG(t, 400, 300)

	out, contentType := Downscale(src, 1280, 80)
	if contentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", contentType)
	}
	if got := decodedWidth(t, out); got != 400 {
		t.Errorf("expected width 400, got %d", got)
	}
}

func TestDownscaleNonImagePassthrough(t *testing.T) {
	data := []byte("not an image at all")

	out, contentType := Downscale(data, 1280, 80)
	if contentType != "" {
		t.Fatalf("expected empty content type, got %q", contentType)
	}
	if !bytes.Equal(out, data) {
		t.Error("expected non-image data to pass through unchanged")
	}
}

func TestObjectName(t *testing.T) {
	name := ObjectName("usr_abc", ".jpg")
	if got, want := name[:8], "usr_abc/"; got != want {
		t.Errorf("expected prefix %q, got %q", want, got)
	}
	if name[len(name)-4:] != ".jpg" {
		t.Errorf("expected .jpg suffix, got %q", name)
	}
}
