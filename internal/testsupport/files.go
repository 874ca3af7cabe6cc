package testsupport

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"scribe/internal/objectstore"
)

// PNG renders a small solid image for upload and enrichment tests.
func PNG(t testing.TB, width, height int) []byte {
	t.Helper()

	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 0x42, G: 0x80, B: 0xc0, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// SeedObject writes data under key and fails the test on error.
func SeedObject(t testing.TB, objects objectstore.Store, key string, data []byte) {
	t.Helper()

	if err := objects.Put(context.Background(), key, data, "image/png"); err != nil {
		t.Fatalf("seed object %s: %v", key, err)
	}
}
