package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

const (
	// BlackThreshold is the gray level below which a pixel counts as bar.
	BlackThreshold = 50
	// ContentRun is how many non-bar columns end the bar scan.
	ContentRun = 10
	// AttachmentLimit is the chat attachment size ceiling.
	AttachmentLimit = 8_000_000
	// MaxAttachmentEdge bounds the longest side after shrinking.
	MaxAttachmentEdge = 1800
	jpegQuality       = 85
)

// ErrTooLarge reports an image that stays above the limit after shrinking.
var ErrTooLarge = errors.New("image exceeds attachment limit")

// Decode reads a JPEG or PNG image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// BarWidths returns the width of the dark vertical bars on the left and right
// edges. Each half is scanned from its edge; columns whose pixels are all
// below BlackThreshold count as bar, and ContentRun non-bar columns stop the
// scan.
func BarWidths(img image.Image) (left, right int) {
	b := img.Bounds()
	width := b.Dx()
	half := width / 2
	dark := func(x int) bool {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y >= BlackThreshold {
				return false
			}
		}
		return true
	}
	scan := func(columns func(i int) int, count int) int {
		bar, content := 0, 0
		for i := 0; i < count; i++ {
			if dark(columns(i)) {
				bar++
				continue
			}
			content++
			if content >= ContentRun {
				break
			}
		}
		return bar
	}
	left = scan(func(i int) int { return b.Min.X + i }, half)
	right = scan(func(i int) int { return b.Max.X - 1 - i }, width-half)
	return left, right
}

// TrimBars crops the dark side bars and rotates the result clockwise when it
// is wider than tall.
func TrimBars(img image.Image) image.Image {
	left, right := BarWidths(img)
	b := img.Bounds()
	rect := image.Rect(b.Min.X+left, b.Min.Y, b.Max.X-right, b.Max.Y)
	if rect.Empty() {
		rect = b
	}
	cropped := Crop(img, rect)
	if cropped.Bounds().Dx() > cropped.Bounds().Dy() {
		return RotateClockwise(cropped)
	}
	return cropped
}

// Crop copies rect out of img into a new image anchored at the origin.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}

// CropSquare cuts a square whose side is sizeFrac of the image width, with
// its top-left corner at leftFrac of the width and topFrac of the height.
// Fractions are floored to whole pixels.
func CropSquare(img image.Image, leftFrac, topFrac, sizeFrac float64) (image.Image, error) {
	b := img.Bounds()
	side := int(float64(b.Dx()) * sizeFrac)
	left := b.Min.X + int(float64(b.Dx())*leftFrac)
	top := b.Min.Y + int(float64(b.Dy())*topFrac)
	rect := image.Rect(left, top, left+side, top+side)
	if side <= 0 || !rect.In(b) {
		return nil, fmt.Errorf("square crop %v outside image %v", rect, b)
	}
	return Crop(img, rect), nil
}

// RotateClockwise rotates img by 90 degrees clockwise.
func RotateClockwise(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(b.Dy()-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// Shrink scales img down so its longest edge is at most maxEdge, averaging
// source pixels. Smaller images are returned unchanged.
func Shrink(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxEdge <= 0 || longest <= maxEdge {
		return img
	}
	nw := max(1, w*maxEdge/longest)
	nh := max(1, h*maxEdge/longest)
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		y0 := b.Min.Y + y*h/nh
		y1 := max(y0+1, b.Min.Y+(y+1)*h/nh)
		for x := 0; x < nw; x++ {
			x0 := b.Min.X + x*w/nw
			x1 := max(x0+1, b.Min.X+(x+1)*w/nw)
			var r, g, bl, a, n uint64
			for sy := y0; sy < y1; sy++ {
				for sx := x0; sx < x1; sx++ {
					cr, cg, cb, ca := img.At(sx, sy).RGBA()
					r, g, bl, a = r+uint64(cr), g+uint64(cg), bl+uint64(cb), a+uint64(ca)
					n++
				}
			}
			out.Set(x, y, color.RGBA64{
				R: uint16(r / n), G: uint16(g / n), B: uint16(bl / n), A: uint16(a / n),
			})
		}
	}
	return out
}

// EncodeJPEG encodes img at the default quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FitAttachment returns data unchanged when it is within limit, otherwise a
// shrunken JPEG re-encode. ErrTooLarge is returned when even that is too big.
func FitAttachment(data []byte, limit int) ([]byte, error) {
	if limit <= 0 || len(data) <= limit {
		return data, nil
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	out, err := EncodeJPEG(Shrink(img, MaxAttachmentEdge))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: %d bytes after shrinking", ErrTooLarge, len(out))
	}
	return out, nil
}
