package imagegen

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PlaceholderSize is the edge length of the blank fallback artifact.
const PlaceholderSize = 512

// MaxImagePixels bounds width*height of any image DecodeArtifact accepts.
// Larger headers are rejected before pixel data is allocated.
const MaxImagePixels = 4096 * 4096

// jpegQuality matches the encoder default most image libraries ship with.
const jpegQuality = 75

var (
	errEmptyImage       = errors.New("image data is empty")
	errUnsupportedImage = errors.New("unsupported output format")
	errImageTooLarge    = errors.New("image dimensions exceed pixel limit")
)

// Artifact is a decoded image as a normalized pixel array of shape
// (Frames, Height, Width, Channels) with values in [0, 1]. Pixels is laid out
// frame-major, then row, column, channel.
type Artifact struct {
	Frames   int
	Height   int
	Width    int
	Channels int
	Pixels   []float32
}

// Shape returns (frames, height, width, channels).
func (a *Artifact) Shape() [4]int {
	return [4]int{a.Frames, a.Height, a.Width, a.Channels}
}

// At returns the normalized value at the given coordinate.
func (a *Artifact) At(frame, y, x, c int) float32 {
	idx := ((frame*a.Height+y)*a.Width+x)*a.Channels + c
	return a.Pixels[idx]
}

// IsBlank reports whether the artifact has the placeholder shape and every
// value is zero. A genuinely black 512x512 RGB result is indistinguishable.
func (a *Artifact) IsBlank() bool {
	if a == nil || a.Shape() != [4]int{1, PlaceholderSize, PlaceholderSize, 3} {
		return false
	}
	for _, v := range a.Pixels {
		if v != 0 {
			return false
		}
	}
	return true
}

// BlankArtifact returns the 512x512 all-black RGB artifact used whenever a
// task cannot produce a real image.
func BlankArtifact() *Artifact {
	return &Artifact{
		Frames:   1,
		Height:   PlaceholderSize,
		Width:    PlaceholderSize,
		Channels: 3,
		Pixels:   make([]float32, PlaceholderSize*PlaceholderSize*3),
	}
}

// DecodeArtifact loads raw image bytes, re-encodes them as format, reloads
// the re-encoded bytes and normalizes the result. The round trip settles the
// color model the same way regardless of what the service sent.
//
// Accepted input encodings: PNG, JPEG, GIF, BMP, TIFF and WebP. Images
// declaring more than MaxImagePixels pixels are rejected from the header alone.
func DecodeArtifact(raw []byte, format OutputFormat) (*Artifact, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Format: format, Err: errEmptyImage}
	}
	if !format.Valid() {
		return nil, &DecodeError{Format: format, Err: errUnsupportedImage}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	if err := checkPixelLimit(cfg.Width, cfg.Height); err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	var buf bytes.Buffer
	if err := encodeImage(&buf, img, format); err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	reloaded, _, err := image.Decode(&buf)
	if err != nil {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("reload: %w", err)}
	}

	return artifactFromImage(reloaded), nil
}

func checkPixelLimit(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", errEmptyImage, width, height)
	}
	if int64(width)*int64(height) > MaxImagePixels {
		return fmt.Errorf("%w: %dx%d is over %d", errImageTooLarge, width, height, MaxImagePixels)
	}
	return nil
}

func encodeImage(w io.Writer, img image.Image, format OutputFormat) error {
	switch format {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case FormatPNG:
		return png.Encode(w, img)
	default:
		return errUnsupportedImage
	}
}

// artifactFromImage normalizes 8-bit channel values by 1/255. Grayscale
// images keep a single channel; images with transparency keep alpha.
func artifactFromImage(img image.Image) *Artifact {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		a := newArtifact(h, w, 1)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w]
			for x, v := range row {
				a.Pixels[y*w+x] = float32(v) / 255
			}
		}
		return a
	case *image.Gray16:
		a := newArtifact(h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := src.Gray16At(b.Min.X+x, b.Min.Y+y).Y >> 8
				a.Pixels[y*w+x] = float32(v) / 255
			}
		}
		return a
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	channels := 3
	if !isOpaque(img) {
		channels = 4
	}

	a := newArtifact(h, w, channels)
	i := 0
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			for c := 0; c < channels; c++ {
				a.Pixels[i] = float32(row[x*4+c]) / 255
				i++
			}
		}
	}
	return a
}

func newArtifact(h, w, channels int) *Artifact {
	return &Artifact{
		Frames:   1,
		Height:   h,
		Width:    w,
		Channels: channels,
		Pixels:   make([]float32, h*w*channels),
	}
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return true
}

// Image converts the first frame back into an image.Image.
func (a *Artifact) Image() image.Image {
	rect := image.Rect(0, 0, a.Width, a.Height)
	if a.Channels == 1 {
		g := image.NewGray(rect)
		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				g.SetGray(x, y, color.Gray{Y: to8(a.At(0, y, x, 0))})
			}
		}
		return g
	}

	out := image.NewNRGBA(rect)
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			c := color.NRGBA{
				R: to8(a.At(0, y, x, 0)),
				G: to8(a.At(0, y, x, 1)),
				B: to8(a.At(0, y, x, 2)),
				A: 255,
			}
			if a.Channels == 4 {
				c.A = to8(a.At(0, y, x, 3))
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// Encode writes the first frame to w in the given format.
func (a *Artifact) Encode(w io.Writer, format OutputFormat) error {
	if err := encodeImage(w, a.Image(), format.orDefault()); err != nil {
		return fmt.Errorf("imagegen: encode artifact: %w", err)
	}
	return nil
}

func to8(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}
